package collective

import (
	"context"
	"fmt"
	"sync"
)

// Group connects participants that live in the same process, e.g. goroutines
// started by the driver. Each member gets its own Communicator via Member.
type Group struct {
	size   int
	mu     sync.Mutex
	rounds map[int]*round
}

type round struct {
	root    int
	values  [][]byte
	seen    []bool
	arrived int
	done    chan struct{}
}

// NewGroup creates a group of size participants
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	return &Group{size: size, rounds: make(map[int]*round)}, nil
}

// Member returns the communicator for rank.
// A member is used by one goroutine; different members may run concurrently.
func (g *Group) Member(rank int) (Communicator, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, g.size)
	}
	return &member{group: g, rank: rank}, nil
}

type member struct {
	group *Group
	rank  int
	calls int
}

func (m *member) Rank() int { return m.rank }

func (m *member) Size() int { return m.group.size }

func (m *member) Gather(ctx context.Context, payload []byte, root int) ([][]byte, error) {
	if err := checkRoot(root, m.group.size); err != nil {
		return nil, err
	}

	idx := m.calls
	m.calls++

	r, err := m.group.submit(idx, m.rank, root, payload)
	if err != nil {
		return nil, err
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("gather round %d: %w", idx, ctx.Err())
	}

	if m.rank != root {
		return nil, nil
	}
	return r.values, nil
}

func (g *Group) submit(idx, rank, root int, payload []byte) (*round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[idx]
	if !ok {
		r = &round{
			root:   root,
			values: make([][]byte, g.size),
			seen:   make([]bool, g.size),
			done:   make(chan struct{}),
		}
		g.rounds[idx] = r
	}
	if r.root != root {
		return nil, fmt.Errorf("gather round %d: rank %d uses root %d, others use %d", idx, rank, root, r.root)
	}
	if r.seen[rank] {
		return nil, fmt.Errorf("gather round %d: rank %d submitted twice", idx, rank)
	}

	r.values[rank] = append([]byte(nil), payload...)
	r.seen[rank] = true
	r.arrived++
	if r.arrived == g.size {
		close(r.done)
		delete(g.rounds, idx)
	}
	return r, nil
}
