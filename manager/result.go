package manager

import (
	"fmt"
	"strings"

	"github.com/anymcp/anymcp/mcp"
)

// CallStatus discriminates the outcome of one tool invocation. Every
// call site gets a distinct variant to branch on; there is no generic
// failure bucket.
type CallStatus string

const (
	// CallSuccess carries the provider's structured payload.
	CallSuccess CallStatus = "success"
	// CallToolError means the provider answered and reported failure.
	CallToolError CallStatus = "tool-error"
	// CallRoutingError means the request never matched a provider/tool.
	CallRoutingError CallStatus = "routing-error"
	// CallTransportError means the provider could not be reached or
	// did not answer in time.
	CallTransportError CallStatus = "transport-error"
)

// RoutingErrorKind narrows a routing failure.
type RoutingErrorKind string

const (
	RoutingUnknownTool     RoutingErrorKind = "unknown-tool"
	RoutingUnknownProvider RoutingErrorKind = "unknown-provider"
	RoutingAmbiguousTool   RoutingErrorKind = "ambiguous-tool"
)

// CallResult is the discriminated outcome of Manager.Call. Exactly the
// fields implied by Status are populated.
type CallResult struct {
	Status   CallStatus
	Provider string
	Tool     string

	// Content and Structured carry the payload on success.
	Content    []mcp.Content
	Structured []byte

	// Message describes the failure for every non-success variant.
	Message string

	// Routing and Candidates qualify a CallRoutingError.
	Routing    RoutingErrorKind
	Candidates []string

	// Transport qualifies a CallTransportError.
	Transport mcp.TransportErrorKind
}

// Text flattens the success payload's text blocks.
func (r *CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func successResult(provider, tool string, res *mcp.CallToolResult) *CallResult {
	return &CallResult{
		Status:     CallSuccess,
		Provider:   provider,
		Tool:       tool,
		Content:    res.Content,
		Structured: res.StructuredContent,
	}
}

func toolErrorResult(provider, tool, message string) *CallResult {
	return &CallResult{
		Status:   CallToolError,
		Provider: provider,
		Tool:     tool,
		Message:  message,
	}
}

func transportErrorResult(provider, tool string, kind mcp.TransportErrorKind, message string) *CallResult {
	return &CallResult{
		Status:    CallTransportError,
		Provider:  provider,
		Tool:      tool,
		Message:   message,
		Transport: kind,
	}
}

func routingErrorResult(kind RoutingErrorKind, tool string, candidates []string) *CallResult {
	var msg string
	switch kind {
	case RoutingUnknownTool:
		msg = fmt.Sprintf("no provider advertises tool %q", tool)
	case RoutingUnknownProvider:
		msg = fmt.Sprintf("unknown provider for tool %q", tool)
	case RoutingAmbiguousTool:
		msg = fmt.Sprintf("tool %q is advertised by multiple providers: %s", tool, strings.Join(candidates, ", "))
	}
	return &CallResult{
		Status:     CallRoutingError,
		Tool:       tool,
		Message:    msg,
		Routing:    kind,
		Candidates: candidates,
	}
}
