// Package dispatch validates actuation requests and routes them to the
// owning board's queue. Rejections are synchronous; nothing is ever
// silently dropped.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/proplab/standd/internal/board"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/registry"
	"github.com/proplab/standd/internal/state"
)

var (
	ErrUnknownTarget  = errors.New("unknown target")
	ErrNotCommandable = errors.New("not commandable")
	ErrNotArmed       = errors.New("not armed")
	ErrStaleCommand   = errors.New("stale command")
	ErrQueueFull      = errors.New("command queue full")
)

// Request is one inbound actuation request from a collaborator.
type Request struct {
	Board    string    `json:"board"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	Field    string    `json:"field"`
	Value    any       `json:"value"`
	IssuedAt time.Time `json:"issuedAt"`
}

type Dispatcher struct {
	reg       *registry.Registry
	store     *state.Store
	staleness time.Duration
}

func New(reg *registry.Registry, store *state.Store, staleness time.Duration) *Dispatcher {
	if staleness <= 0 {
		staleness = 2 * time.Second
	}
	return &Dispatcher{reg: reg, store: store, staleness: staleness}
}

// Submit validates in order: target exists, field is commandable, the
// device is armed (unless the command is the arming itself), and the
// request is fresh. On success the command is queued on the owning
// board; transmission happens on that board's next tick.
func (d *Dispatcher) Submit(req Request) (string, error) {
	kind, err := device.ParseKind(req.Kind)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, req.Kind)
	}
	b, dev, ok := d.reg.Find(req.Board, kind, req.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s/%s", ErrUnknownTarget, req.Board, req.Kind, req.Name)
	}

	if !dev.Commandable(req.Field) {
		return "", fmt.Errorf("%w: %s field %q", ErrNotCommandable, dev, req.Field)
	}

	// Arming is the command that flips the gate, so it alone skips it.
	if req.Field != "armed" {
		armed, err := d.store.Get(kind, req.Name, "armed")
		if err != nil {
			return "", err
		}
		if armed != true {
			return "", fmt.Errorf("%w: %s", ErrNotArmed, dev)
		}
	}

	if req.IssuedAt.IsZero() {
		req.IssuedAt = time.Now()
	} else if time.Since(req.IssuedAt) > d.staleness {
		return "", fmt.Errorf("%w: issued %s ago", ErrStaleCommand, time.Since(req.IssuedAt).Round(time.Millisecond))
	}

	cmd := board.Command{
		ID:       xid.New().String(),
		Board:    req.Board,
		Kind:     kind,
		Name:     req.Name,
		Field:    req.Field,
		Value:    req.Value,
		IssuedAt: req.IssuedAt,
	}
	if !b.PushCommand(cmd) {
		return "", fmt.Errorf("%w: board %s", ErrQueueFull, req.Board)
	}
	logging.Debug("command accepted", "id", cmd.ID, "board", req.Board,
		"device", dev.String(), "field", req.Field, "value", req.Value)
	return cmd.ID, nil
}

// DisarmAll is the emergency disarm, exposed here so collaborators
// reach it through the same component that accepts commands.
func (d *Dispatcher) DisarmAll() {
	d.reg.DisarmAll()
}
