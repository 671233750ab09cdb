package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
)

func TestJSONHandler(t *testing.T) {
	var got notification.ChangeNotice
	h := JSONHandler(func(_ context.Context, key []byte, n notification.ChangeNotice) error {
		assert.Equal(t, "42", string(key))
		got = n
		return nil
	})

	err := h(context.Background(), KeyFromInt64(42), []byte(`{"target_id":42,"subject":"changed","artifact":{"kind":"text_diff","text":"-A\n+B"}}`))
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.TargetID)
	assert.Equal(t, notification.ArtifactTextDiff, got.Artifact.Kind)

	err = h(context.Background(), nil, []byte(`{`))
	require.ErrorContains(t, err, "decode")
}

func TestHeaderCarrier(t *testing.T) {
	hs := []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	c := carrier(&hs)

	c.Set("traceparent", "00-abc-def-01")
	c.Set("traceparent", "00-abc-fed-01")
	assert.Equal(t, "00-abc-fed-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"content-type", "traceparent"}, c.Keys())
	require.Len(t, hs, 2)
}
