package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMInputTokens is base for counter metric for total input tokens sent to LLM
	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"provider", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"provider", "model"},
	}

	StatsLLMCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_calls_failed",
		Help:         "stats_llm_calls_failed provides total failed completion calls",
		RequiredTags: []string{"provider"},
	}

	StatsConverseSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_converse_succeeded",
		Help:         "stats_converse_succeeded provides total user turns succeeded",
		RequiredTags: []string{"provider"},
	}

	StatsConverseFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_converse_failed",
		Help:         "stats_converse_failed provides total user turns failed",
		RequiredTags: []string{"provider"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsInvalid = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_invalid",
		Help:         "stats_tool_calls_invalid provides total tool calls with invalid arguments or output",
		RequiredTags: []string{"tool"},
	}

	StatsMCPConnectFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_connect_failed",
		Help:         "stats_mcp_connect_failed provides total failed connections to MCP servers",
		RequiredTags: []string{"server"},
	}

	StatsMCPCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_calls_failed",
		Help:         "stats_mcp_calls_failed provides total failed MCP requests",
		RequiredTags: []string{"server", "method"},
	}
)

// Perf
var (
	PerfConverse = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_converse",
		Help:         "perf_converse provides duration of a user turn",
		RequiredTags: []string{"provider"},
	}

	PerfLLMCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_call",
		Help:         "perf_llm_call provides duration of a completion call",
		RequiredTags: []string{"provider", "model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfMCPCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_call",
		Help:         "perf_mcp_call provides duration of MCP request",
		RequiredTags: []string{"server", "method"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfConverse,
	&PerfLLMCall,
	&PerfMCPCall,
	&PerfToolCall,
	&StatsConverseFailed,
	&StatsConverseSucceeded,
	&StatsLLMCallsFailed,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsMCPCallsFailed,
	&StatsMCPConnectFailed,
	&StatsToolCallsFailed,
	&StatsToolCallsInvalid,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
