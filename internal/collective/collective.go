// Package collective provides the rendezvous used to combine the results of independent
// search participants. A participant only ever talks to the group through Gather.
package collective

import (
	"context"
	"encoding/json"
	"fmt"
)

// Communicator connects one participant to its group
type Communicator interface {
	// Rank is this participant's index in [0, Size)
	Rank() int
	// Size is the number of participants
	Size() int
	// Gather blocks until every participant has submitted a payload for this round.
	// The root receives all payloads ordered by rank; every other rank receives nil.
	Gather(ctx context.Context, payload []byte, root int) ([][]byte, error)
}

// Local is the single-participant communicator: Gather is an identity passthrough
type Local struct{}

// Rank always returns 0
func (Local) Rank() int { return 0 }

// Size always returns 1
func (Local) Size() int { return 1 }

// Gather returns the payload itself
func (Local) Gather(ctx context.Context, payload []byte, root int) ([][]byte, error) {
	if root != 0 {
		return nil, fmt.Errorf("invalid root %d for a single participant", root)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

// GatherJSON gathers one value per participant through c.
// The root gets the decoded values ordered by rank; other ranks get nil.
func GatherJSON[T any](ctx context.Context, c Communicator, v T, root int) ([]T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}

	raw, err := c.Gather(ctx, data, root)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	out := make([]T, len(raw))
	for i, b := range raw {
		if err := json.Unmarshal(b, &out[i]); err != nil {
			return nil, fmt.Errorf("failed to decode value from rank %d: %w", i, err)
		}
	}
	return out, nil
}

func checkRoot(root, size int) error {
	if root < 0 || root >= size {
		return fmt.Errorf("invalid root %d for %d participants", root, size)
	}
	return nil
}
