package manager

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anymcp/anymcp/mcp"
)

// ProviderState is one point in the provider lifecycle.
type ProviderState string

const (
	StateStopped     ProviderState = "stopped"
	StateStarting    ProviderState = "starting"
	StateHandshaking ProviderState = "handshaking"
	StateReady       ProviderState = "ready"
	StateDegraded    ProviderState = "degraded"
	StateStopping    ProviderState = "stopping"
	StateFailed      ProviderState = "failed"
)

// SpawnError reports that a provider process could not be launched at
// all. It is always returned synchronously from Start.
type SpawnError struct {
	Provider string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Provider, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProviderStatus is a point-in-time report for one provider.
type ProviderStatus struct {
	Name        string        `json:"name"`
	State       ProviderState `json:"state"`
	Enabled     bool          `json:"enabled"`
	Description string        `json:"description,omitempty"`
	PID         int           `json:"pid,omitempty"`
	Exited      bool          `json:"exited,omitempty"`
	ExitError   string        `json:"exitError,omitempty"`
	Healthy     bool          `json:"healthy"`
	LastProbe   time.Time     `json:"lastProbe,omitzero"`
	CallsIssued int64         `json:"callsIssued"`
	CallsFailed int64         `json:"callsFailed"`
	Tools       int           `json:"tools"`
}

// supervisor owns one provider: its process (or connection), its
// protocol client, its health probing, and its teardown. The protocol
// client exists exactly while the state is at or past handshaking.
type supervisor struct {
	cfg    ProviderConfig
	opts   Options
	logger *zap.SugaredLogger

	// notify is the manager's transition hook; it prunes the registry
	// and publishes events. Called outside the supervisor lock.
	notify func(name string, from, to ProviderState)

	mu       sync.Mutex
	state    ProviderState
	client   *mcp.Client
	cmd      *exec.Cmd
	pid      int
	exited   bool
	exitErr  error
	procDone chan struct{}

	lastProbe     time.Time
	lastProbeOK   bool
	probeFailures int

	callsIssued int64
	callsFailed int64

	stopProbe  chan struct{}
	probeEnded chan struct{}
	probeOnce  sync.Once
}

func newSupervisor(cfg ProviderConfig, opts Options, logger *zap.SugaredLogger, notify func(string, ProviderState, ProviderState)) *supervisor {
	return &supervisor{
		cfg:        cfg,
		opts:       opts,
		logger:     logger.With("provider", cfg.Name),
		notify:     notify,
		state:      StateStopped,
		stopProbe:  make(chan struct{}),
		probeEnded: make(chan struct{}),
	}
}

func (s *supervisor) currentState() ProviderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *supervisor) transition(to ProviderState) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Infow("provider state changed", "from", from, "to", to)
	if s.notify != nil {
		s.notify(s.cfg.Name, from, to)
	}
}

// start brings the provider to Ready and returns its discovered tools,
// or kills whatever was spawned and returns a SpawnError/SessionError.
func (s *supervisor) start(ctx context.Context) ([]ToolDescriptor, error) {
	s.transition(StateStarting)

	transport, err := s.openTransport()
	if err != nil {
		s.transition(StateFailed)
		return nil, &SpawnError{Provider: s.cfg.Name, Err: err}
	}

	s.transition(StateHandshaking)

	client := mcp.NewClient(transport, s.logger, mcp.ClientOptions{
		InitTimeout:   s.opts.InitTimeout,
		CallTimeout:   s.opts.CallTimeout,
		ShutdownGrace: s.opts.ShutdownGrace,
		ClientInfo:    mcp.Implementation{Name: s.opts.ClientName, Version: s.opts.ClientVersion},
	})
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if err := client.Initialize(ctx); err != nil {
		s.abort(client)
		return nil, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		s.abort(client)
		return nil, &mcp.SessionError{Reason: "tool discovery failed", Err: err}
	}

	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Provider:    s.cfg.Name,
		})
	}

	s.transition(StateReady)
	go s.probeLoop()

	s.logger.Infow("provider ready", "tools", len(descriptors))
	return descriptors, nil
}

// openTransport spawns the subprocess or dials the remote address.
func (s *supervisor) openTransport() (mcp.Transport, error) {
	if s.cfg.Kind == LaunchRemote {
		conn, err := net.DialTimeout("tcp", s.cfg.Address, s.opts.InitTimeout)
		if err != nil {
			return nil, err
		}
		s.logger.Infow("connected to remote provider", "address", s.cfg.Address)
		return mcp.NewConnTransport(conn), nil
	}

	env := s.cfg.resolveEnv()
	command, args, err := s.cfg.commandLine(env)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	// Provider stderr flows through the redirected stdlib logger.
	cmd.Stderr = log.Writer()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	s.logger.Infow("spawning provider", "command", command, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	procDone := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.procDone = procDone
	s.mu.Unlock()

	go s.watchProcess(cmd, procDone)

	return mcp.NewStdioTransport(stdin, stdout), nil
}

// watchProcess owns cmd.Wait. A crash while Ready or Degraded drives
// the provider straight to Failed; there is nothing left to probe.
func (s *supervisor) watchProcess(cmd *exec.Cmd, procDone chan struct{}) {
	err := cmd.Wait()
	close(procDone)

	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	state := s.state
	client := s.client
	s.mu.Unlock()

	if state == StateReady || state == StateDegraded {
		s.logger.Warnw("provider process exited unexpectedly", "error", err)
		s.transition(StateFailed)
		if client != nil {
			_ = client.Close()
		}
	}
}

// abort tears down after a failed handshake.
func (s *supervisor) abort(client *mcp.Client) {
	_ = client.Close()
	s.killProcess()
	s.transition(StateFailed)
}

func (s *supervisor) killProcess() {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	procDone := s.procDone
	s.mu.Unlock()

	if cmd == nil || exited {
		return
	}
	_ = cmd.Process.Kill()
	if procDone != nil {
		select {
		case <-procDone:
		case <-time.After(s.opts.ShutdownGrace):
			s.logger.Warnw("process did not reap after kill")
		}
	}
}

// probeLoop runs while the provider is Ready or Degraded. A probe is a
// tools/list round trip plus a process liveness check.
func (s *supervisor) probeLoop() {
	defer close(s.probeEnded)

	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopProbe:
			return
		case <-ticker.C:
		}

		state := s.currentState()
		if state != StateReady && state != StateDegraded {
			return
		}

		s.mu.Lock()
		exited := s.exited
		client := s.client
		s.mu.Unlock()

		if exited {
			// watchProcess already drove the transition; just stop.
			return
		}

		if state == StateReady && client.ConsecutiveTimeouts() >= s.opts.TimeoutStreakLimit {
			s.logger.Warnw("consecutive call timeouts, degrading", "streak", client.ConsecutiveTimeouts())
			client.ResetTimeoutStreak()
			s.transition(StateDegraded)
			state = StateDegraded
		}

		probeCtx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeTimeout)
		_, err := client.ListTools(probeCtx)
		cancel()

		s.mu.Lock()
		s.lastProbe = time.Now()
		s.lastProbeOK = err == nil
		if err == nil {
			s.probeFailures = 0
		} else {
			s.probeFailures++
		}
		failures := s.probeFailures
		s.mu.Unlock()

		switch {
		case err == nil:
			if state == StateDegraded {
				s.transition(StateReady)
			}
		case failures >= s.opts.ProbeFailureLimit:
			s.logger.Errorw("health probe failed repeatedly, failing provider", "failures", failures, "error", err)
			s.transition(StateFailed)
			_ = client.Close()
			s.killProcess()
			return
		default:
			s.logger.Warnw("health probe failed", "failures", failures, "error", err)
			if state == StateReady {
				s.transition(StateDegraded)
			}
		}
	}
}

// stop drives any live state through Stopping to Stopped: best-effort
// protocol shutdown within the grace window, then forced kill.
// Idempotent.
func (s *supervisor) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	cmd := s.cmd
	exited := s.exited
	procDone := s.procDone
	s.mu.Unlock()

	s.transition(StateStopping)

	s.probeOnce.Do(func() { close(s.stopProbe) })

	if client != nil {
		_ = client.Shutdown(ctx)
	}

	if cmd != nil && !exited {
		select {
		case <-procDone:
		case <-time.After(s.opts.ShutdownGrace):
			s.logger.Warnw("provider did not exit in grace period, killing")
			_ = cmd.Process.Kill()
			select {
			case <-procDone:
			case <-time.After(s.opts.ShutdownGrace):
				return fmt.Errorf("provider %s: process %d not reaped after kill", s.cfg.Name, s.pid)
			}
		}
	}

	s.transition(StateStopped)
	return nil
}

func (s *supervisor) recordCall(failed bool) {
	s.mu.Lock()
	s.callsIssued++
	if failed {
		s.callsFailed++
	}
	s.mu.Unlock()
}

func (s *supervisor) status(toolCount int) ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exitErr string
	if s.exited && s.exitErr != nil {
		exitErr = s.exitErr.Error()
	}
	return ProviderStatus{
		Name:        s.cfg.Name,
		State:       s.state,
		Enabled:     s.cfg.IsEnabled(),
		Description: s.cfg.Description,
		PID:         s.pid,
		Exited:      s.exited,
		ExitError:   exitErr,
		Healthy:     s.state == StateReady,
		LastProbe:   s.lastProbe,
		CallsIssued: s.callsIssued,
		CallsFailed: s.callsFailed,
		Tools:       toolCount,
	}
}
