package collective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultRetryInterval is how often a non-root participant resends its payload
// while the root has not acknowledged it.
const DefaultRetryInterval = 500 * time.Millisecond

// NATS connects participants running in separate processes through a NATS server.
//
// Every round uses the subject <prefix>.<round>. Non-root ranks publish their payload
// there and resend it until the root acknowledges on <prefix>.<round>.ack.<rank>.
// The root acknowledges only once every rank has arrived, so Gather is a barrier.
type NATS struct {
	conn          *nats.Conn
	prefix        string
	rank          int
	size          int
	calls         int
	RetryInterval time.Duration
	Logger        *slog.Logger
}

type envelope struct {
	Rank    int    `json:"rank"`
	Payload []byte `json:"payload"`
}

// NewNATS creates the communicator for rank in a group of size participants.
// All participants of one run must use the same runID.
func NewNATS(conn *nats.Conn, runID string, rank, size int) (*NATS, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is nil")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	if size < 1 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, size)
	}
	return &NATS{
		conn:          conn,
		prefix:        "maximize." + runID + ".gather",
		rank:          rank,
		size:          size,
		RetryInterval: DefaultRetryInterval,
		Logger:        slog.Default(),
	}, nil
}

// Rank returns this participant's rank
func (n *NATS) Rank() int { return n.rank }

// Size returns the number of participants
func (n *NATS) Size() int { return n.size }

// Gather implements Communicator
func (n *NATS) Gather(ctx context.Context, payload []byte, root int) ([][]byte, error) {
	if err := checkRoot(root, n.size); err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("%s.%d", n.prefix, n.calls)
	n.calls++

	if n.rank == root {
		return n.collect(ctx, subject, payload, root)
	}
	return nil, n.send(ctx, subject, payload)
}

func (n *NATS) collect(ctx context.Context, subject string, payload []byte, root int) ([][]byte, error) {
	sub, err := n.conn.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	values := make([][]byte, n.size)
	seen := make([]bool, n.size)
	values[root] = payload
	seen[root] = true
	arrived := 1

	for arrived < n.size {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("gather on %s: %w", subject, err)
		}

		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.Logger.Warn("Dropping malformed gather message", "subject", subject, "error", err)
			continue
		}
		if env.Rank < 0 || env.Rank >= n.size {
			n.Logger.Warn("Dropping gather message from unknown rank", "subject", subject, "rank", env.Rank)
			continue
		}
		if seen[env.Rank] {
			continue
		}

		values[env.Rank] = env.Payload
		seen[env.Rank] = true
		arrived++
		n.Logger.Debug("Gather arrival", "subject", subject, "rank", env.Rank, "arrived", arrived, "size", n.size)
	}

	for rank := 0; rank < n.size; rank++ {
		if rank == root {
			continue
		}
		if err := n.conn.Publish(ackSubject(subject, rank), nil); err != nil {
			return nil, fmt.Errorf("failed to acknowledge rank %d: %w", rank, err)
		}
	}
	if err := n.conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush acknowledgements: %w", err)
	}
	return values, nil
}

func (n *NATS) send(ctx context.Context, subject string, payload []byte) error {
	data, err := json.Marshal(envelope{Rank: n.rank, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode gather message: %w", err)
	}

	ack, err := n.conn.SubscribeSync(ackSubject(subject, n.rank))
	if err != nil {
		return fmt.Errorf("failed to subscribe for acknowledgement: %w", err)
	}
	defer func() { _ = ack.Unsubscribe() }()

	interval := n.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	for {
		if err := n.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}

		wait, cancel := context.WithTimeout(ctx, interval)
		_, err := ack.NextMsgWithContext(wait)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("gather on %s: %w", subject, ctx.Err())
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("waiting for acknowledgement on %s: %w", subject, err)
		}
	}
}

func ackSubject(subject string, rank int) string {
	return fmt.Sprintf("%s.ack.%d", subject, rank)
}
