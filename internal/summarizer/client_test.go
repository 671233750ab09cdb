package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Price dropped.  "}}]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, APIKey: "k", Model: "m", MaxInput: 3})
	s, err := c.Summarize(context.Background(), "abcdef", "xyz", "https://shop.example/item")
	require.NoError(t, err)
	assert.Equal(t, "Price dropped.", s)

	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "abc…")
	assert.Contains(t, got.Messages[1].Content, "https://shop.example/item")
}

func TestSummarize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL + "/empty"}).Summarize(context.Background(), "a", "b", "")
	require.ErrorIs(t, err, ErrEmptyReply)

	_, err = New(Config{Endpoint: srv.URL}).Summarize(context.Background(), "a", "b", "")
	require.ErrorContains(t, err, "429")
}
