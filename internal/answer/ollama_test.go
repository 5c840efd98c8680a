package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// TS01: Chat Round Trip
//
// One non-streaming request to /api/chat carries both prompt roles;
// the reply content comes back trimmed.
func TestOllamaGenerator_ChatRoundTrip(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: chatMessage{Role: "assistant", Content: "  Fusion sums rank reciprocals.  "},
		})
	}))
	defer server.Close()

	g := NewOllamaGenerator(Config{OllamaHost: server.URL + "/", Model: "test-model"})
	text, err := g.Complete(context.Background(), "be brief", "what is fusion")
	require.NoError(t, err)

	assert.Equal(t, "Fusion sums rank reciprocals.", text)
	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "what is fusion"}, got.Messages[1])
}

// TS02: Server Error
func TestOllamaGenerator_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	g := NewOllamaGenerator(Config{OllamaHost: server.URL})
	_, err := g.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, qerrors.CategoryNetwork, qerrors.GetCategory(err))
	assert.Contains(t, err.Error(), "500")
}

// TS03: Unreachable Server
func TestOllamaGenerator_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	g := NewOllamaGenerator(Config{OllamaHost: server.URL})
	_, err := g.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, qerrors.CategoryNetwork, qerrors.GetCategory(err))
}

// TS04: Defaults
func TestOllamaGenerator_Defaults(t *testing.T) {
	g := NewOllamaGenerator(Config{})
	assert.Equal(t, "ollama:"+DefaultOllamaModel, g.Name())
	assert.Equal(t, DefaultOllamaHost, g.host)
	assert.Equal(t, DefaultTimeout, g.timeout)
}
