package manager

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
)

// testTool is one scripted tool on a testProvider.
type testTool struct {
	Name        string
	Description string
	Schema      map[string]any
	// Handler returns the text payload and whether it is a
	// provider-reported error.
	Handler func(args map[string]any) (string, bool)
}

// testProvider is an in-process TCP provider speaking the wire
// protocol, used as a remote-kind fixture so lifecycle tests run
// without spawning subprocesses.
type testProvider struct {
	t     *testing.T
	ln    net.Listener
	tools []testTool

	mu          sync.Mutex
	initCount   int
	callCounts  map[string]int
	silentCalls bool
	silentList  bool
	conns       []net.Conn
}

func startTestProvider(t *testing.T, tools ...testTool) *testProvider {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &testProvider{t: t, ln: ln, tools: tools, callCounts: map[string]int{}}
	go p.acceptLoop()
	t.Cleanup(p.close)
	return p
}

func (p *testProvider) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()
		go p.serve(conn)
	}
}

func (p *testProvider) config(name string) ProviderConfig {
	return ProviderConfig{Name: name, Kind: LaunchRemote, Address: p.ln.Addr().String()}
}

func (p *testProvider) initializations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCount
}

func (p *testProvider) calls(tool string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCounts[tool]
}

func (p *testProvider) setSilentCalls(v bool) {
	p.mu.Lock()
	p.silentCalls = v
	p.mu.Unlock()
}

func (p *testProvider) setSilentList(v bool) {
	p.mu.Lock()
	p.silentList = v
	p.mu.Unlock()
}

// close simulates a crash: the listener and every live connection die.
func (p *testProvider) close() {
	p.ln.Close()
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

type testFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (p *testProvider) serve(conn net.Conn) {
	var wmu sync.Mutex
	send := func(id any, result any) {
		resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
		data, _ := json.Marshal(resp)
		wmu.Lock()
		conn.Write(append(data, '\n'))
		wmu.Unlock()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	for scanner.Scan() {
		var frame testFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil || frame.ID == nil {
			continue
		}

		switch frame.Method {
		case "initialize":
			p.mu.Lock()
			p.initCount++
			p.mu.Unlock()
			send(frame.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{},
				"serverInfo":      map[string]any{"name": "testprovider", "version": "0.0.0"},
			})

		case "tools/list":
			p.mu.Lock()
			silent := p.silentList
			p.mu.Unlock()
			if silent {
				continue
			}
			tools := make([]map[string]any, 0, len(p.tools))
			for _, tool := range p.tools {
				entry := map[string]any{"name": tool.Name, "description": tool.Description}
				if tool.Schema != nil {
					entry["inputSchema"] = tool.Schema
				}
				tools = append(tools, entry)
			}
			send(frame.ID, map[string]any{"tools": tools})

		case "tools/call":
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(frame.Params, &params)

			p.mu.Lock()
			p.callCounts[params.Name]++
			silent := p.silentCalls
			p.mu.Unlock()
			if silent {
				continue
			}

			for _, tool := range p.tools {
				if tool.Name != params.Name {
					continue
				}
				text, isErr := tool.Handler(params.Arguments)
				send(frame.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": text}},
					"isError": isErr,
				})
				break
			}

		case "shutdown":
			send(frame.ID, map[string]any{})
		}
	}
}

// numberSchema is the calculator-style input schema used across tests.
var numberSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []any{"a", "b"},
}

func addTool() testTool {
	return testTool{
		Name:        "add",
		Description: "Add two numbers",
		Schema:      numberSchema,
		Handler: func(args map[string]any) (string, bool) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return trimFloat(a + b), false
		},
	}
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
