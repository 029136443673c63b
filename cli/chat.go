package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/agent"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const inputPrompt = "> "

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	replyColor = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
)

// NewChatCmd creates the "chat" command.
func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat with the agent",
		Args:  cobra.NoArgs,
		RunE:  RunChat,
	}
}

// RunChat runs the interactive chat, the root command uses it by default.
func RunChat(cmd *cobra.Command, _ []string) error {
	// the chat and the confirmations read the same input
	in := newScanner(cmd.InOrStdin())
	a, err := startAgent(cmd, in)
	if err != nil {
		return err
	}
	defer dispose(cmd, a)

	out := cmd.OutOrStdout()
	printBanner(out, a)
	return chatLoop(cmd.Context(), a, in, out)
}

func newScanner(in io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func printBanner(out io.Writer, a *agent.Agent) {
	titleColor.Fprintln(out, "DevOps AI Agent")
	fmt.Fprintln(out, "---------------")
	if p := a.Provider(); p != nil {
		fmt.Fprintf(out, "Provider: %s (%s)\n", llmfactory.DisplayName(p.Name()), p.Model())
	}
	connected := 0
	for _, s := range a.ServerStatus() {
		if s.Connected {
			connected++
		}
	}
	fmt.Fprintf(out, "Tools: %d, MCP servers connected: %d\n", len(a.ListTools()), connected)
	fmt.Fprintln(out, "Type 'help' for the list of commands, 'exit' to quit.")
	fmt.Fprintln(out)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  ask <question>  send the question to the agent")
	fmt.Fprintln(out, "  tools           list the available tools")
	fmt.Fprintln(out, "  status          show the providers and the MCP servers")
	fmt.Fprintln(out, "  clear           clear the conversation history")
	fmt.Fprintln(out, "  help            show this help")
	fmt.Fprintln(out, "  exit, quit      exit the chat")
	fmt.Fprintln(out, "Any other input is sent to the agent.")
}

func chatLoop(ctx context.Context, a *agent.Agent, scanner *bufio.Scanner, out io.Writer) error {
	for ctx.Err() == nil {
		fmt.Fprint(out, inputPrompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return errors.Wrap(err, "failed to read input")
			}
			fmt.Fprintln(out, "\nExiting due to EOF")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch lower {
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "help":
			printHelp(out)
			continue
		case "clear":
			if err := a.ClearHistory(); err != nil {
				errorColor.Fprintf(out, "Error: %s\n", oneLine(err.Error()))
			} else {
				fmt.Fprintln(out, "Conversation history cleared")
			}
			continue
		case "tools":
			printTools(out, a.ListTools())
			continue
		case "status":
			printStatus(out, a.ProviderStatus(), a.ServerStatus())
			continue
		case "ask":
			fmt.Fprintln(out, "Usage: ask <question>")
			continue
		}

		if strings.HasPrefix(lower, "ask ") {
			line = strings.TrimSpace(line[len("ask "):])
		}

		reply, err := a.Converse(ctx, line)
		if err != nil {
			errorColor.Fprintf(out, "Error: %s\n", oneLine(err.Error()))
			continue
		}
		replyColor.Fprintf(out, "\n%s\n\n", reply)
	}
	return nil
}
