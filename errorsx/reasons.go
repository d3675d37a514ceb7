package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Connect-time failures. Fatal to startup.
	ReasonUnsupportedServerKind ReasonCode = "unsupported_server_kind"
	ReasonTransport             ReasonCode = "transport"

	// Tool-time failures. Reported inside the tool result payload.
	ReasonInvalidArguments ReasonCode = "invalid_arguments"
	ReasonToolExecution    ReasonCode = "tool_execution"

	ReasonLLMGenerate ReasonCode = "llm_generate"
	ReasonConfig      ReasonCode = "config"
)
