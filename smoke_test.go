package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestSmoke_Serve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	dir := t.TempDir()
	sources := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sources, []byte("origins: []\n"), 0o644))

	cfg := &config.Config{
		EmbeddingProvider:         config.ProviderHash,
		EmbeddingModel:            "hash",
		EmbeddingDimensions:       64,
		VectorBackend:             config.BackendMemory,
		LedgerBackend:             config.LedgerBolt,
		LedgerPath:                filepath.Join(dir, "ledger.db"),
		MemoryIndexPath:           filepath.Join(dir, "index.db"),
		SourcesFile:               sources,
		QueryLogPath:              filepath.Join(dir, "logs", "query.log"),
		NSQDHost:                  "localhost:4150",
		ChunkSize:                 500,
		ChunkOverlap:              50,
		BatchSize:                 10,
		MaxWorkers:                1,
		IngestionConcurrency:      1,
		QueryTopDocuments:         10,
		QueryOverfetch:            3,
		QueryEmbedTimeoutSeconds:  5,
		QuerySearchTimeoutSeconds: 5,
		ClaimTTLSeconds:           60,
		BootstrapRetryAttempts:    1,
		ServerPort:                freePort(t),
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.ServerPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)

	resp, err := http.Post(base+"/api/query/documents", "application/json", strings.NewReader(`{"query":"warmtenet"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}

	raw, err := os.ReadFile(cfg.QueryLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"query":"warmtenet"`)
}
