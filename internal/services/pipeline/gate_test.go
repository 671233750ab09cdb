package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/NordCoder/Pagewatch/internal/domain/target"
)

func TestAllow(t *testing.T) {
	tests := []struct {
		name  string
		rules []target.Rule
		text  string
		want  bool
	}{
		{"no rules", nil, "anything", true},
		{"contains hit", []target.Rule{{Predicate: target.Contains, Value: "In Stock"}}, "now IN STOCK", true},
		{"contains miss", []target.Rule{{Predicate: target.Contains, Value: "in stock"}}, "sold out", false},
		{"not contains hit", []target.Rule{{Predicate: target.NotContains, Value: "out of stock"}}, "Out of stock", false},
		{"not contains miss", []target.Rule{{Predicate: target.NotContains, Value: "out of stock"}}, "available", true},
		{
			"last rule wins over an earlier false",
			[]target.Rule{{Predicate: target.Contains, Value: "sale"}, {Predicate: target.NotContains, Value: "sold out"}},
			"regular price",
			true,
		},
		{
			"last rule wins over an earlier true",
			[]target.Rule{{Predicate: target.Contains, Value: "regular"}, {Predicate: target.Contains, Value: "sale"}},
			"regular price",
			false,
		},
		{"unknown predicate keeps verdict", []target.Rule{{Predicate: target.Predicate("matches"), Value: "x"}}, "y", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allow(tt.rules, tt.text))
		})
	}
}

func TestWithinBounds(t *testing.T) {
	lo, hi := decimal.NewFromInt(10), decimal.NewFromInt(20)
	b := target.PriceBounds{Min: &lo, Max: &hi}

	assert.True(t, WithinBounds(target.PriceBounds{}, decimal.NewFromInt(999)))
	assert.True(t, WithinBounds(b, decimal.NewFromInt(10)))
	assert.True(t, WithinBounds(b, decimal.NewFromInt(20)))
	assert.False(t, WithinBounds(b, decimal.RequireFromString("9.99")))
	assert.False(t, WithinBounds(b, decimal.RequireFromString("20.01")))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&NavigationTimeoutError{Err: &ElementNotFoundError{Selector: "#x"}}, "navigation_timeout"},
		{&NavigationError{URL: "u", Err: errors.New("dns")}, "navigation"},
		{fmt.Errorf("wrapped: %w", &ElementNotFoundError{Selector: "#x", Attempts: 3}), "element_not_found"},
		{&ExtractionEmptyError{What: "price"}, "extraction_empty"},
		{&RenderingEngineUnavailableError{Err: errors.New("launch")}, "rendering_engine_unavailable"},
		{&InternalError{Op: "screenshot", Err: errors.New("boom")}, "internal"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestPoll_StopsOnFirstSuccess(t *testing.T) {
	calls := 0
	ok, err := poll(context.Background(), 5, time.Millisecond, func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPoll_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	ok, err := poll(ctx, 3, time.Hour, func() (bool, error) {
		calls++
		return false, nil
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestInFlight(t *testing.T) {
	l := NewInFlight()
	assert.True(t, l.Acquire(1))
	assert.False(t, l.Acquire(1))
	assert.True(t, l.Acquire(2))
	assert.True(t, l.Held(1))
	l.Release(1)
	assert.False(t, l.Held(1))
	assert.True(t, l.Acquire(1))
}
