package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/embedding"
)

func TestEmbed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"een", "twee"}, req.Input)
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Out of order on purpose.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.2,0.2]},{"index":0,"embedding":[0.1,0.1]}]}`))
	}))
	defer ts.Close()

	e, err := NewEmbedder("sk-test", "", ts.URL+"/v1/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())

	vecs, err := e.Embed(context.Background(), []string{"een", "twee"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.1}, {0.2, 0.2}}, vecs)
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		message   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`, true, "Rate limit reached"},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, true, "Bad Gateway"},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key"}}`, false, "Incorrect API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			e, err := NewEmbedder("sk-test", "text-embedding-3-large", ts.URL, time.Second)
			require.NoError(t, err)

			_, err = e.Embed(context.Background(), []string{"x"})
			var pe *embedding.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.message, pe.Message)
			assert.Equal(t, tt.transient, embedding.IsTransient(err))
		})
	}
}

func TestNewEmbedder_RequiresKey(t *testing.T) {
	_, err := NewEmbedder("", "", "", 0)
	assert.Error(t, err)
}
