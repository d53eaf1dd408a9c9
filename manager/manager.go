package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anymcp/anymcp/mcp"
)

// Options tune every timeout and threshold in the lifecycle core. Zero
// fields are filled from DefaultOptions.
type Options struct {
	// InitTimeout bounds the handshake of each Start.
	InitTimeout time.Duration
	// CallTimeout bounds each tool call round trip.
	CallTimeout time.Duration
	// ShutdownGrace bounds graceful shutdown before forced kill.
	ShutdownGrace time.Duration
	// ProbeInterval is the period of the health probe loop.
	ProbeInterval time.Duration
	// ProbeTimeout bounds one health probe round trip.
	ProbeTimeout time.Duration
	// ProbeFailureLimit is the consecutive probe failures that drive
	// Degraded to Failed.
	ProbeFailureLimit int
	// TimeoutStreakLimit is the consecutive call timeouts that drive
	// Ready to Degraded.
	TimeoutStreakLimit int

	// ClientName/ClientVersion identify us during initialize.
	ClientName    string
	ClientVersion string
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		InitTimeout:        10 * time.Second,
		CallTimeout:        30 * time.Second,
		ShutdownGrace:      5 * time.Second,
		ProbeInterval:      10 * time.Second,
		ProbeTimeout:       5 * time.Second,
		ProbeFailureLimit:  3,
		TimeoutStreakLimit: 3,
		ClientName:         "anymcp",
		ClientVersion:      "1.0.0",
	}
}

// ErrProviderDisabled is returned by Start for a config whose enabled
// flag is off.
var ErrProviderDisabled = errors.New("provider is disabled")

// ErrManagerClosed is returned once ShutdownAll has run.
var ErrManagerClosed = errors.New("manager is shut down")

// Manager is the single entry point callers use: it owns every
// provider's supervisor, aggregates their tool catalogs into one
// registry, and routes calls. Safe for any number of concurrent
// callers; per-provider start/stop serialize on the provider's own
// handle while different providers proceed in parallel.
type Manager struct {
	opts   Options
	logger *zap.SugaredLogger

	registry atomic.Pointer[ToolRegistry]
	events   *eventHub

	mu      sync.Mutex
	handles map[string]*handle
	configs map[string]ProviderConfig
	closed  bool
}

// handle pairs a supervisor with a gate that concurrent Starts of the
// same name wait on, so exactly one spawn happens per name.
type handle struct {
	sup      *supervisor
	ready    chan struct{}
	startErr error
}

// NewManager builds a manager with opts folded over DefaultOptions.
func NewManager(opts Options, logger *zap.SugaredLogger) *Manager {
	if err := mergo.Merge(&opts, DefaultOptions()); err != nil {
		panic(err)
	}
	m := &Manager{
		opts:    opts,
		logger:  logger,
		events:  newEventHub(),
		handles: map[string]*handle{},
		configs: map[string]ProviderConfig{},
	}
	m.registry.Store(newToolRegistry())
	return m
}

// Events subscribes to the typed lifecycle event stream. The cancel
// func must be called when done.
func (m *Manager) Events(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// onStateChange is the supervisor transition hook: prune dead
// providers' tools and publish the typed event.
func (m *Manager) onStateChange(name string, from, to ProviderState) {
	if to == StateFailed || to == StateStopping {
		m.pruneRegistry(name)
	}
	m.events.publish(Event{
		Type:     EventProviderStateChanged,
		Time:     time.Now(),
		Provider: name,
		From:     from,
		To:       to,
	})
}

func (m *Manager) pruneRegistry(name string) {
	for {
		cur := m.registry.Load()
		next := cur.withoutProvider(name)
		if next == cur || m.registry.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (m *Manager) mergeRegistry(name string, tools []ToolDescriptor) {
	for {
		cur := m.registry.Load()
		next := cur.withProvider(name, tools)
		if m.registry.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Start brings one provider to Ready. Idempotent per name: concurrent
// or repeated starts of the same name share a single spawn and return
// once it reaches Ready or Failed.
func (m *Manager) Start(ctx context.Context, cfg ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.IsEnabled() {
		return fmt.Errorf("provider %s: %w", cfg.Name, ErrProviderDisabled)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.configs[cfg.Name] = cfg
	if h, ok := m.handles[cfg.Name]; ok {
		m.mu.Unlock()
		// Someone else is starting or has started this provider.
		select {
		case <-h.ready:
			return h.startErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h := &handle{
		sup:   newSupervisor(cfg, m.opts, m.logger, m.onStateChange),
		ready: make(chan struct{}),
	}
	m.handles[cfg.Name] = h
	m.mu.Unlock()

	tools, err := h.sup.start(ctx)
	if err != nil {
		h.startErr = err
		// Remove the handle before waking waiters: a Stop/Start pair that
		// runs between the two steps must not have its fresh handle
		// evicted by this stale one.
		m.mu.Lock()
		if m.handles[cfg.Name] == h {
			delete(m.handles, cfg.Name)
		}
		m.mu.Unlock()
		close(h.ready)
		return err
	}

	m.mergeRegistry(cfg.Name, tools)
	close(h.ready)
	return nil
}

// StartAll starts every enabled config concurrently. Individual
// failures are collected, not fatal to the rest.
func (m *Manager) StartAll(ctx context.Context, cfgs []ProviderConfig) error {
	var g errgroup.Group
	var errMu sync.Mutex
	var errs []error

	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			m.logger.Infow("skipping disabled provider", "provider", cfg.Name)
			continue
		}
		g.Go(func() error {
			if err := m.Start(ctx, cfg); err != nil {
				m.logger.Errorw("provider failed to start", "provider", cfg.Name, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop stops one provider and prunes its tools. Stopping a name that
// is not running is a no-op success: the desired end state holds.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	h, ok := m.handles[name]
	if ok {
		delete(m.handles, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Wait out a racing Start so we tear down a settled handle.
	select {
	case <-h.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.pruneRegistry(name)
	return h.sup.stop(ctx)
}

// Restart stops and restarts a provider by its last known config.
func (m *Manager) Restart(ctx context.Context, name string) error {
	m.mu.Lock()
	cfg, ok := m.configs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	if err := m.Stop(ctx, name); err != nil {
		return err
	}
	return m.Start(ctx, cfg)
}

// ListAllTools returns the current registry snapshot's descriptors.
// Safe to call concurrently with any start/stop; the snapshot is
// immutable.
func (m *Manager) ListAllTools() []ToolDescriptor {
	return m.registry.Load().Tools()
}

// Registry returns the current immutable snapshot.
func (m *Manager) Registry() *ToolRegistry {
	return m.registry.Load()
}

// Call routes one tool invocation. With provider empty the bare tool
// name is resolved through the registry: exactly one match routes,
// zero is unknown, several is ambiguous and names the candidates.
func (m *Manager) Call(ctx context.Context, provider, tool string, args map[string]any) *CallResult {
	started := time.Now()
	result := m.dispatch(ctx, provider, tool, args)

	m.events.publish(Event{
		Type:     EventToolCallCompleted,
		Time:     time.Now(),
		Provider: result.Provider,
		CallID:   uuid.NewString(),
		Tool:     tool,
		Status:   result.Status,
		Duration: time.Since(started),
	})
	return result
}

func (m *Manager) dispatch(ctx context.Context, provider, tool string, args map[string]any) *CallResult {
	reg := m.registry.Load()

	var desc ToolDescriptor
	if provider == "" {
		matches := reg.Resolve(tool)
		switch len(matches) {
		case 0:
			return routingErrorResult(RoutingUnknownTool, tool, nil)
		case 1:
			desc = matches[0]
			provider = desc.Provider
		default:
			candidates := make([]string, len(matches))
			for i, d := range matches {
				candidates[i] = d.Provider
			}
			return routingErrorResult(RoutingAmbiguousTool, tool, candidates)
		}
	} else {
		var ok bool
		desc, ok = reg.Lookup(provider, tool)
		if !ok {
			m.mu.Lock()
			_, known := m.handles[provider]
			m.mu.Unlock()
			if !known {
				res := routingErrorResult(RoutingUnknownProvider, tool, nil)
				res.Provider = provider
				res.Message = fmt.Sprintf("unknown provider %q", provider)
				return res
			}
			res := routingErrorResult(RoutingUnknownTool, tool, nil)
			res.Provider = provider
			res.Message = fmt.Sprintf("provider %q does not advertise tool %q", provider, tool)
			return res
		}
	}

	m.mu.Lock()
	h, ok := m.handles[provider]
	m.mu.Unlock()
	if !ok {
		res := routingErrorResult(RoutingUnknownProvider, tool, nil)
		res.Provider = provider
		res.Message = fmt.Sprintf("provider %q is not running", provider)
		return res
	}

	switch state := h.sup.currentState(); state {
	case StateReady:
	case StateDegraded:
		return transportErrorResult(provider, tool, mcp.TransportDisconnected,
			fmt.Sprintf("provider %q is degraded, refusing new calls", provider))
	default:
		return transportErrorResult(provider, tool, mcp.TransportDisconnected,
			fmt.Sprintf("provider %q is %s", provider, state))
	}

	if msg, ok := validateArgs(desc, args); !ok {
		return toolErrorResult(provider, tool, msg)
	}

	res, err := h.sup.client.CallTool(ctx, tool, args)
	h.sup.recordCall(err != nil || (res != nil && res.IsError))
	if err != nil {
		return mapCallError(provider, tool, err)
	}
	if res.IsError {
		return toolErrorResult(provider, tool, res.Text())
	}
	return successResult(provider, tool, res)
}

// validateArgs checks the argument map against the tool's advertised
// schema before send. A schema that itself fails to compile is treated
// as no schema; validation here is informative, not authoritative.
func validateArgs(desc ToolDescriptor, args map[string]any) (string, bool) {
	if len(desc.InputSchema) == 0 {
		return "", true
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(desc.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return "", true
	}
	if result.Valid() {
		return "", true
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)
	return fmt.Sprintf("invalid arguments for %s: %v", desc.Name, msgs), false
}

func mapCallError(provider, tool string, err error) *CallResult {
	var toolErr *mcp.ToolError
	if errors.As(err, &toolErr) {
		return toolErrorResult(provider, tool, toolErr.Message)
	}
	var transErr *mcp.TransportError
	if errors.As(err, &transErr) {
		return transportErrorResult(provider, tool, transErr.Kind, transErr.Error())
	}
	return transportErrorResult(provider, tool, mcp.TransportDisconnected, err.Error())
}

// Status reports every known provider, running or not, sorted by name.
func (m *Manager) Status() []ProviderStatus {
	reg := m.registry.Load()

	m.mu.Lock()
	statuses := make([]ProviderStatus, 0, len(m.configs))
	for name, cfg := range m.configs {
		if h, ok := m.handles[name]; ok {
			statuses = append(statuses, h.sup.status(len(reg.ProviderTools(name))))
		} else {
			statuses = append(statuses, ProviderStatus{
				Name:        name,
				State:       StateStopped,
				Enabled:     cfg.IsEnabled(),
				Description: cfg.Description,
			})
		}
	}
	m.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ShutdownAll stops every provider concurrently and reports any
// individual stop failure. After it returns no provider process is
// left running and the manager refuses further starts.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	handles := m.handles
	m.handles = map[string]*handle{}
	m.mu.Unlock()

	var g errgroup.Group
	var errMu sync.Mutex
	var errs []error

	for name, h := range handles {
		g.Go(func() error {
			select {
			case <-h.ready:
			case <-ctx.Done():
			}
			if err := h.sup.stop(ctx); err != nil {
				m.logger.Errorw("provider stop failed", "provider", name, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.registry.Store(newToolRegistry())
	m.events.close()
	return errors.Join(errs...)
}
