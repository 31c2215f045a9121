package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, APIKey: "test-key", Model: "deepseek-v3"})
}

func TestCompleteReturnsEnvelopeVerbatim(t *testing.T) {
	envelope := `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"}}]}`

	var gotAuth string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(envelope))
	}))
	defer server.Close()

	completion, err := newTestClient(server.URL).Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, false, gotBody["stream"])
	assert.Equal(t, envelope, string(completion.Raw))
	assert.Equal(t, "hi there", completion.Message.Content)
	assert.Equal(t, "assistant", completion.Message.Role)
}

func TestCompleteSurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.JSONEq(t, `{"error":"rate limited"}`, string(statusErr.Body))
}

func TestCompleteRejectsBadShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.ErrorIs(t, err, ErrBadResponseShape)
}

func TestCompleteTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.ErrorIs(t, err, ErrUpstreamUnreachable)
}

func TestStreamReturnsOpenBody(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"chunk\"}}]}\n\ndata: [DONE]\n\n"

	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL).Stream(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, true, gotBody["stream"])
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(raw))
}

func TestStreamSurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("backend down"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Stream(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "backend down", string(statusErr.Body))
}
