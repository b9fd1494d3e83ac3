// Package registry builds boards from validated configuration and
// owns their lifecycle. It is the only place transports and boards are
// constructed; everything downstream (dispatcher, API) looks targets
// up here.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/proplab/standd/internal/board"
	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/state"
	"github.com/proplab/standd/internal/transport"
)

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Registry struct {
	store  *state.Store
	boards map[string]*board.Board
	order  []string

	mu      sync.Mutex
	parent  context.Context
	running map[string]*runner
}

// New builds every board in the config. Construction fails fast on
// schema violations (unknown kind, duplicate device); a bad config
// never yields a half-built registry.
func New(cfg *config.StandConfig, store *state.Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		boards:  make(map[string]*board.Board, len(cfg.Boards)),
		running: make(map[string]*runner),
	}

	names := make([]string, 0, len(cfg.Boards))
	for name := range cfg.Boards {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bcfg := cfg.Boards[name]
		tr, err := buildTransport(bcfg)
		if err != nil {
			return nil, fmt.Errorf("board %s: %w", name, err)
		}
		b, err := board.New(name, bcfg, tr, store)
		if err != nil {
			return nil, fmt.Errorf("board %s: %w", name, err)
		}
		r.boards[name] = b
		r.order = append(r.order, name)
	}
	return r, nil
}

func buildTransport(bcfg *config.BoardConfig) (transport.Transport, error) {
	switch {
	case bcfg.Serial != nil:
		return transport.NewSerial(bcfg.Serial.Port, bcfg.Serial.Baud), nil
	case bcfg.UDP != nil:
		return transport.NewUDP(bcfg.UDP.Host, bcfg.UDP.Port), nil
	}
	return nil, fmt.Errorf("no transport configured")
}

// StartAll launches one poll goroutine per board.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = ctx
	for _, name := range r.order {
		r.startLocked(name)
	}
}

func (r *Registry) startLocked(name string) {
	b := r.boards[name]
	ctx, cancel := context.WithCancel(r.parent)
	run := &runner{cancel: cancel, done: make(chan struct{})}
	r.running[name] = run
	go func() {
		defer close(run.done)
		b.Run(ctx)
	}()
}

// StopAll cancels every board and waits for the loops to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	running := r.running
	r.running = make(map[string]*runner)
	r.mu.Unlock()

	for _, run := range running {
		run.cancel()
	}
	for _, run := range running {
		<-run.done
	}
	logging.Info("all boards stopped")
}

// Restart stops one board's loop and starts it again on the same
// board instance; other boards keep ticking undisturbed.
func (r *Registry) Restart(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boards[name]; !ok {
		return fmt.Errorf("no board %q", name)
	}
	if r.parent == nil {
		return fmt.Errorf("registry not started")
	}
	if run, ok := r.running[name]; ok {
		run.cancel()
		<-run.done
	}
	r.startLocked(name)
	logging.Info("board restarted", "board", name)
	return nil
}

func (r *Registry) Board(name string) (*board.Board, bool) {
	b, ok := r.boards[name]
	return b, ok
}

// Find resolves a command target to its owning board and device.
func (r *Registry) Find(boardName string, kind device.Kind, name string) (*board.Board, device.Device, bool) {
	b, ok := r.boards[boardName]
	if !ok {
		return nil, device.Device{}, false
	}
	d, ok := b.Device(kind, name)
	return b, d, ok
}

// DisarmAll forces every actuator on every board to disarm. Emergency
// path: bypasses queued commands.
func (r *Registry) DisarmAll() {
	for _, name := range r.order {
		r.boards[name].DisarmAll()
	}
	logging.Warn("all actuators disarmed")
}

// Statuses reports each board's lifecycle state for collaborators.
func (r *Registry) Statuses() map[string]string {
	out := make(map[string]string, len(r.boards))
	for name, b := range r.boards {
		out[name] = b.Status().String()
	}
	return out
}

func (r *Registry) Store() *state.Store { return r.store }
