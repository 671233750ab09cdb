package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Status is the relay state of a stored message.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

type Kind int

const (
	KindChangeDetected Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindChangeDetected:
		return "change_detected"
	default:
		return "kind_" + strconv.Itoa(int(k))
	}
}

// ChangeKey is the idempotency key of the notice for one detected change.
func ChangeKey(targetID int64, at time.Time) string {
	return fmt.Sprintf("change:%d:%d", targetID, at.UnixNano())
}

// Message is a stored notice plus the trace context of the check that
// produced it.
type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Traceparent    string
	Tracestate     string
	Baggage        string
}

type Repository interface {
	// Enqueue joins the caller's transaction when there is one.
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error
	// PickBatch claims created messages and reclaims in-progress ones older
	// than inProgressTTL.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
