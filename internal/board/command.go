package board

import (
	"sync"
	"time"

	"github.com/proplab/standd/internal/device"
)

// Command is one accepted actuation request, queued on the owning
// board until its next poll tick transmits it.
type Command struct {
	ID       string
	Board    string
	Kind     device.Kind
	Name     string
	Field    string
	Value    any
	IssuedAt time.Time
}

type cmdKey struct {
	kind  device.Kind
	name  string
	field string
}

type pendingCmd struct {
	cmd Command
	seq uint64
}

// commandQueue holds pending commands between ticks. Latest wins: a
// new command for the same (kind, name, field) replaces the pending
// one, and on overflow the oldest command for the same device is
// evicted before anything else. Stale actuator intents are dangerous
// on a live stand, so an older command never outlives a newer one.
type commandQueue struct {
	mu    sync.Mutex
	limit int
	seq   uint64
	items map[cmdKey]*pendingCmd
}

func newCommandQueue(limit int) *commandQueue {
	if limit <= 0 {
		limit = 16
	}
	return &commandQueue{limit: limit, items: make(map[cmdKey]*pendingCmd)}
}

func (q *commandQueue) Push(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := cmdKey{kind: cmd.Kind, name: cmd.Name, field: cmd.Field}
	q.seq++
	if p, ok := q.items[key]; ok {
		p.cmd = cmd
		p.seq = q.seq
		return true
	}
	if len(q.items) >= q.limit {
		if !q.evict(cmd.Kind, cmd.Name) {
			return false
		}
	}
	q.items[key] = &pendingCmd{cmd: cmd, seq: q.seq}
	return true
}

// evict drops the oldest pending command for the same device, falling
// back to the oldest overall so a full queue never rejects fresher intent.
func (q *commandQueue) evict(kind device.Kind, name string) bool {
	var victim cmdKey
	var found bool
	var oldest uint64
	for k, p := range q.items {
		if k.kind != kind || k.name != name {
			continue
		}
		if !found || p.seq < oldest {
			victim, oldest, found = k, p.seq, true
		}
	}
	if !found {
		for k, p := range q.items {
			if !found || p.seq < oldest {
				victim, oldest, found = k, p.seq, true
			}
		}
	}
	if found {
		delete(q.items, victim)
	}
	return found
}

// Drain removes and returns all pending commands in submission order.
func (q *commandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	pending := make([]*pendingCmd, 0, len(q.items))
	for _, p := range q.items {
		pending = append(pending, p)
	}
	q.items = make(map[cmdKey]*pendingCmd)

	for i := 1; i < len(pending); i++ {
		for j := i; j > 0 && pending[j-1].seq > pending[j].seq; j-- {
			pending[j-1], pending[j] = pending[j], pending[j-1]
		}
	}
	cmds := make([]Command, len(pending))
	for i, p := range pending {
		cmds[i] = p.cmd
	}
	return cmds
}

func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
