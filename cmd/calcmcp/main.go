// calcmcp is the bundled demo provider: a calculator MCP server over
// stdio. It doubles as the round-trip fixture for the dispatch core.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type binaryArgs struct {
	A float64 `json:"a" jsonschema:"First operand"`
	B float64 `json:"b" jsonschema:"Second operand"`
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calcmcp",
		Version: "1.0.0",
	}, nil)

	registerBinary(server, "add", "Add two numbers", func(a, b float64) (float64, error) {
		return a + b, nil
	})
	registerBinary(server, "subtract", "Subtract b from a", func(a, b float64) (float64, error) {
		return a - b, nil
	})
	registerBinary(server, "multiply", "Multiply two numbers", func(a, b float64) (float64, error) {
		return a * b, nil
	})
	registerBinary(server, "divide", "Divide a by b", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// registerBinary declares one two-operand tool with an explicit
// name/description/schema triple.
func registerBinary(server *mcp.Server, name, description string, op func(a, b float64) (float64, error)) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args binaryArgs) (*mcp.CallToolResult, any, error) {
		value, err := op(args.A, args.B)
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: formatNumber(value)},
			},
		}, nil, nil
	})
}

// formatNumber trims the trailing .0 off integral results so "add 2 3"
// prints 5, not 5.000000.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
