// Package manager owns the lifecycle of tool providers and routes tool
// calls to them through one aggregated registry.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LaunchKind selects how a provider process is brought up.
type LaunchKind string

const (
	// LaunchScript runs a script path, resolving the interpreter from
	// the file extension when one is needed.
	LaunchScript LaunchKind = "script"
	// LaunchModule runs a runtime module (python -m style).
	LaunchModule LaunchKind = "module"
	// LaunchDocker runs a container image with stdio attached.
	LaunchDocker LaunchKind = "docker"
	// LaunchRemote connects to an already-running provider over TCP.
	LaunchRemote LaunchKind = "remote"
)

// ProviderConfig is the identity and launch recipe for one provider.
// It is immutable once the provider is started; changing it requires a
// stop and restart.
type ProviderConfig struct {
	Name        string     `yaml:"name" json:"name"`
	Kind        LaunchKind `yaml:"kind" json:"kind"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`

	// Command is the script path (script), module name (module) or
	// explicit runner binary; unused for remote.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Runner overrides the interpreter for script/module kinds
	// (default python3).
	Runner string `yaml:"runner,omitempty" json:"runner,omitempty"`

	// Image is the container image for docker providers.
	Image string `yaml:"image,omitempty" json:"image,omitempty"`

	// Address is the host:port of an already-running provider.
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	// Env overrides injected into the provider's environment. Values
	// may reference the host environment as ${VAR}; resolution is
	// deferred until the provider is started.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the provider should be started by StartAll.
func (c *ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks that the config names a launchable provider.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider config missing name")
	}
	switch c.Kind {
	case LaunchScript, LaunchModule:
		if c.Command == "" {
			return fmt.Errorf("provider %s: %s kind requires command", c.Name, c.Kind)
		}
	case LaunchDocker:
		if c.Image == "" {
			return fmt.Errorf("provider %s: docker kind requires image", c.Name)
		}
	case LaunchRemote:
		if c.Address == "" {
			return fmt.Errorf("provider %s: remote kind requires address", c.Name)
		}
	case "":
		return fmt.Errorf("provider %s: missing launch kind", c.Name)
	default:
		return fmt.Errorf("provider %s: unknown launch kind %q", c.Name, c.Kind)
	}
	return nil
}

// interpreterFor maps script extensions to their default runners.
var interpreterFor = map[string]string{
	".py": "python3",
	".js": "node",
	".ts": "npx",
}

// commandLine assembles the argv used to spawn the provider. The env
// map passed in must already be resolved; docker providers forward it
// as -e flags so the container sees the same overrides.
func (c *ProviderConfig) commandLine(env map[string]string) (string, []string, error) {
	switch c.Kind {
	case LaunchScript:
		runner := c.Runner
		if runner == "" {
			runner = interpreterFor[filepath.Ext(c.Command)]
		}
		if runner == "" {
			// No interpreter mapping: the script is executable itself.
			return c.Command, c.Args, nil
		}
		return runner, append([]string{c.Command}, c.Args...), nil

	case LaunchModule:
		runner := c.Runner
		if runner == "" {
			runner = "python3"
		}
		return runner, append([]string{"-m", c.Command}, c.Args...), nil

	case LaunchDocker:
		args := []string{"run", "-i", "--rm"}
		for _, k := range sortedKeys(env) {
			args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
		}
		args = append(args, c.Image)
		args = append(args, c.Args...)
		return "docker", args, nil

	case LaunchRemote:
		return "", nil, fmt.Errorf("provider %s: remote providers are not spawned", c.Name)

	default:
		return "", nil, fmt.Errorf("provider %s: unknown launch kind %q", c.Name, c.Kind)
	}
}

// resolveEnv expands ${VAR} references in the configured overrides
// against the host environment at start time.
func (c *ProviderConfig) resolveEnv() map[string]string {
	resolved := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		resolved[k] = os.Expand(v, os.Getenv)
	}
	return resolved
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
