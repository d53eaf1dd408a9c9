package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/anymcp/anymcp/manager"
)

func printTools(tools []manager.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Println("no tools advertised")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTOOL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Provider, t.Name, oneLine(t.Description, 72))
	}
	w.Flush()
}

func printStatus(statuses []manager.ProviderStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATE\tHEALTHY\tPID\tTOOLS\tCALLS\tFAILED")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%d\n",
			s.Name, s.State, s.Healthy, s.PID, s.Tools, s.CallsIssued, s.CallsFailed)
	}
	w.Flush()
}

// printResult writes the success payload to stdout. Failure variants
// are reported through the exit path instead.
func printResult(result *manager.CallResult) {
	if result.Status != manager.CallSuccess {
		return
	}
	if text := result.Text(); text != "" {
		fmt.Println(text)
		return
	}
	if len(result.Structured) > 0 {
		fmt.Println(string(result.Structured))
		return
	}
	out, _ := json.Marshal(result.Content)
	fmt.Println(string(out))
}

// parseArgs decodes the optional JSON argument object.
func parseArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func oneLine(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
