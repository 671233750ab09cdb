package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/outbox"
	"github.com/NordCoder/Pagewatch/internal/obs/retry"
)

type fakeEvents struct {
	mu    sync.Mutex
	fails int
	got   []notification.ChangeNotice
}

func (f *fakeEvents) PublishChangeDetected(_ context.Context, n notification.ChangeNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("broker down")
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeEvents) published() []notification.ChangeNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.ChangeNotice(nil), f.got...)
}

type fakeRepo struct {
	mu     sync.Mutex
	queue  []outbox.Message
	marked []string
}

func (r *fakeRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data})
	return nil
}

func (r *fakeRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(batch, len(r.queue))
	out := r.queue[:n]
	r.queue = r.queue[n:]
	return out, nil
}

func (r *fakeRepo) MarkSuccess(_ context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, keys...)
	return nil
}

func (r *fakeRepo) markedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.marked...)
}

var fastPolicy = retry.Policy{Name: "test_outbox", Attempts: 3, Backoff: retry.Fixed(time.Millisecond)}

func TestGlobalHandler_RetriesPublish(t *testing.T) {
	ev := &fakeEvents{fails: 2}
	h, err := MakeGlobalOutboxHandler(ev, fastPolicy)(outbox.KindChangeDetected)
	require.NoError(t, err)

	data, _ := json.Marshal(notification.ChangeNotice{TargetID: 9, Subject: "s"})
	require.NoError(t, h(context.Background(), data))
	require.Len(t, ev.published(), 1)
	assert.EqualValues(t, 9, ev.published()[0].TargetID)
}

func TestGlobalHandler_UnknownKind(t *testing.T) {
	_, err := MakeGlobalOutboxHandler(&fakeEvents{}, fastPolicy)(outbox.Kind(99))
	require.ErrorContains(t, err, "kind_99")
}

func TestChangeKey_StablePerChange(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 5, time.UTC)
	assert.Equal(t, outbox.ChangeKey(7, at), outbox.ChangeKey(7, at))
	assert.NotEqual(t, outbox.ChangeKey(7, at), outbox.ChangeKey(8, at))
	assert.NotEqual(t, outbox.ChangeKey(7, at), outbox.ChangeKey(7, at.Add(time.Nanosecond)))
	assert.Equal(t, "change_detected", outbox.KindChangeDetected.String())
}

func TestRunner_PublishesAndMarks(t *testing.T) {
	repo := &fakeRepo{}
	ev := &fakeEvents{}
	data, _ := json.Marshal(notification.ChangeNotice{TargetID: 1})
	require.NoError(t, repo.Enqueue(context.Background(), "k1", outbox.KindChangeDetected, data))
	require.NoError(t, repo.Enqueue(context.Background(), "k2", outbox.Kind(42), data))

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(ev, fastPolicy), 1, 10, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(repo.markedKeys()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"k1"}, repo.markedKeys(), "unknown kinds stay unmarked")
	assert.Len(t, ev.published(), 1)
}
