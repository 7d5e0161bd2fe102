// Package bus is the typed coordination-signal broadcast layer. Delivery is
// at-least-once per subscriber with per-publisher monotonic timestamps and
// no global total order: consumers must tolerate duplicate and out-of-order
// signals across publishers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/swarmgate/internal/model"
)

// Bus is the abstract publish/subscribe transport. The core depends only on
// this interface, not on any specific broker.
type Bus interface {
	// Publish broadcasts one signal to every matching subscriber.
	Publish(ctx context.Context, sig model.Signal) error

	// Subscribe returns a subscription for the given signal types. No types
	// means all types.
	Subscribe(types ...model.SignalType) *Subscription

	// Close tears down the transport. Subscriptions drain and close.
	Close() error
}

// Subscription is one subscriber's ordered, buffered view of the stream.
type Subscription struct {
	// C delivers signals. Closed when the subscription or bus closes.
	C <-chan model.Signal

	cancel  func()
	dropped func() uint64
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Dropped reports how many signals were lost to this subscriber because its
// buffer was full. A non-zero value is a SignalDeliveryGap: the subscriber
// fell behind, other halt paths must not depend on it having caught up.
func (s *Subscription) Dropped() uint64 {
	if s.dropped == nil {
		return 0
	}
	return s.dropped()
}

// NewSignal builds a signal with a fresh identifier and UTC timestamp.
func NewSignal(t model.SignalType, agentID string, payload map[string]any) model.Signal {
	return model.Signal{
		ID:        uuid.NewString(),
		Type:      t,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
