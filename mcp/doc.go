// Package mcp implements the Model Context Protocol client side:
// the Client session with a server, the Manager of the configured servers,
// and the tools exposing the remote capabilities to the model.
//
// The remote tools are bridged into the local tool abstraction by Proxy:
//
//	manager := mcp.NewManager(nil)
//	err := manager.Connect(ctx, "filesystem", &mcp.ServerConfig{
//		Command: "npx",
//		Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
//		Enabled: true,
//	})
//	...
//	proxies := mcp.ProxyTools(ctx, manager)
//	err = registry.Register(proxies...)
package mcp

import "github.com/effective-security/xlog"

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent", "mcp")
