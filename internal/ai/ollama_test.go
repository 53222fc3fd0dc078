package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat_ForwardsOptionsAndReturnsContent(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hi there"},"done":true}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", SamplingOptions{NumPredict: 64, Temperature: 0.2, TopK: 10, TopP: 0.8})
	reply, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Equal(t, 10, got.Options.TopK)
	assert.InDelta(t, 0.8, got.Options.TopP, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestOllamaChat_StatusErrorIncludesUpstreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing", SamplingOptions{})
	_, err := p.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaStreamChat_YieldsChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", SamplingOptions{})
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
}

func TestOllamaStreamChat_ErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", SamplingOptions{})
	text, err := Drain(p.StreamChat(context.Background(), nil))
	require.EqualError(t, err, "out of memory")
	assert.Equal(t, "partial", text)
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))

	p := NewOllamaProvider(srv.URL, "llama3", SamplingOptions{})
	require.NoError(t, p.Ping(context.Background()))

	srv.Close()
	require.Error(t, p.Ping(context.Background()))
}

func TestOllamaChat_SendsZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", SamplingOptions{NumPredict: 256, Temperature: 0, TopK: 40, TopP: 0.9})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	opts, ok := raw["options"].(map[string]any)
	require.True(t, ok, "options missing: %v", raw)
	temp, ok := opts["temperature"]
	require.True(t, ok, "temperature missing: %v", opts)
	assert.Equal(t, float64(0), temp)
	assert.Equal(t, float64(40), opts["top_k"])
}
