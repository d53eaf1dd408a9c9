package manager

import (
	"reflect"
	"testing"
)

func TestProviderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"script ok", ProviderConfig{Name: "a", Kind: LaunchScript, Command: "server.py"}, false},
		{"module ok", ProviderConfig{Name: "a", Kind: LaunchModule, Command: "pkg.server"}, false},
		{"docker ok", ProviderConfig{Name: "a", Kind: LaunchDocker, Image: "ghcr.io/x/y"}, false},
		{"remote ok", ProviderConfig{Name: "a", Kind: LaunchRemote, Address: "127.0.0.1:9"}, false},
		{"missing name", ProviderConfig{Kind: LaunchScript, Command: "x"}, true},
		{"missing kind", ProviderConfig{Name: "a"}, true},
		{"unknown kind", ProviderConfig{Name: "a", Kind: "teleport"}, true},
		{"script without command", ProviderConfig{Name: "a", Kind: LaunchScript}, true},
		{"docker without image", ProviderConfig{Name: "a", Kind: LaunchDocker}, true},
		{"remote without address", ProviderConfig{Name: "a", Kind: LaunchRemote}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestCommandLineScriptInterpreter(t *testing.T) {
	cfg := ProviderConfig{Name: "notion", Kind: LaunchScript, Command: "servers/notion.py", Args: []string{"--verbose"}}
	command, args, err := cfg.commandLine(nil)
	if err != nil {
		t.Fatal(err)
	}
	if command != "python3" {
		t.Errorf("command = %q, want python3", command)
	}
	if !reflect.DeepEqual(args, []string{"servers/notion.py", "--verbose"}) {
		t.Errorf("args = %v", args)
	}
}

func TestCommandLineScriptExecutable(t *testing.T) {
	cfg := ProviderConfig{Name: "bin", Kind: LaunchScript, Command: "/usr/local/bin/calcmcp"}
	command, args, err := cfg.commandLine(nil)
	if err != nil {
		t.Fatal(err)
	}
	if command != "/usr/local/bin/calcmcp" || len(args) != 0 {
		t.Errorf("got %q %v", command, args)
	}
}

func TestCommandLineScriptRunnerOverride(t *testing.T) {
	cfg := ProviderConfig{Name: "a", Kind: LaunchScript, Command: "server.py", Runner: "uv"}
	command, args, _ := cfg.commandLine(nil)
	if command != "uv" || args[0] != "server.py" {
		t.Errorf("runner override ignored: %q %v", command, args)
	}
}

func TestCommandLineModule(t *testing.T) {
	cfg := ProviderConfig{Name: "a", Kind: LaunchModule, Command: "any_mcp.server", Args: []string{"--port", "0"}}
	command, args, err := cfg.commandLine(nil)
	if err != nil {
		t.Fatal(err)
	}
	if command != "python3" {
		t.Errorf("command = %q", command)
	}
	if !reflect.DeepEqual(args, []string{"-m", "any_mcp.server", "--port", "0"}) {
		t.Errorf("args = %v", args)
	}
}

func TestCommandLineDockerInjectsEnv(t *testing.T) {
	cfg := ProviderConfig{Name: "gh", Kind: LaunchDocker, Image: "ghcr.io/github/mcp", Args: []string{"--stdio"}}
	env := map[string]string{"TOKEN": "t0", "API": "a1"}
	command, args, err := cfg.commandLine(env)
	if err != nil {
		t.Fatal(err)
	}
	if command != "docker" {
		t.Errorf("command = %q", command)
	}
	want := []string{"run", "-i", "--rm", "-e", "API=a1", "-e", "TOKEN=t0", "ghcr.io/github/mcp", "--stdio"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestCommandLineRemoteNotSpawnable(t *testing.T) {
	cfg := ProviderConfig{Name: "r", Kind: LaunchRemote, Address: "127.0.0.1:1"}
	if _, _, err := cfg.commandLine(nil); err == nil {
		t.Error("remote kind should not produce a command line")
	}
}

func TestResolveEnvDeferredExpansion(t *testing.T) {
	t.Setenv("ANYMCP_TEST_TOKEN", "sekrit")
	cfg := ProviderConfig{
		Name: "a",
		Kind: LaunchScript, Command: "x.py",
		Env: map[string]string{
			"TOKEN": "${ANYMCP_TEST_TOKEN}",
			"PLAIN": "literal",
			"GONE":  "${ANYMCP_TEST_UNSET_VAR}",
		},
	}
	got := cfg.resolveEnv()
	if got["TOKEN"] != "sekrit" {
		t.Errorf("TOKEN = %q", got["TOKEN"])
	}
	if got["PLAIN"] != "literal" {
		t.Errorf("PLAIN = %q", got["PLAIN"])
	}
	if got["GONE"] != "" {
		t.Errorf("unset var should expand empty, got %q", got["GONE"])
	}
}

func TestIsEnabledDefaultsTrue(t *testing.T) {
	cfg := ProviderConfig{Name: "a"}
	if !cfg.IsEnabled() {
		t.Error("enabled should default to true")
	}
	off := false
	cfg.Enabled = &off
	if cfg.IsEnabled() {
		t.Error("explicit false should disable")
	}
}
