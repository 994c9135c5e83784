package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/app"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/testutils"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/worker"
)

func publications() *httptest.Server {
	docs := map[string]string{
		"/besluit-windpark.txt": strings.Repeat("Gedeputeerde Staten besluiten over de vergunning voor het windpark bij Nijkerk. ", 20),
		"/stikstof.txt":         strings.Repeat("Het verzoek betreft documenten over stikstofdepositie in Natura 2000-gebieden. ", 20),
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, body)
	}))
}

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	srv := publications()
	defer srv.Close()

	cfg := suite.GetAppConfig()
	cfg.SourcesFile = filepath.Join(t.TempDir(), "sources.yaml")
	sources := fmt.Sprintf(`
origins:
  - id: gelderland-handmatig
    kind: manual
    category: Gelderland
    documents:
      - url: %[1]s/besluit-windpark.txt
        title: Besluit windpark Nijkerk
        date: "2024-03-01"
  - id: brabant-handmatig
    kind: manual
    category: Noord-Brabant
    documents:
      - url: %[1]s/stikstof.txt
        title: Woo-verzoek stikstof
        date: "2023-11-15"
`, srv.URL)
	require.NoError(t, os.WriteFile(cfg.SourcesFile, []byte(sources), 0o600))

	ctx := context.Background()
	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	var exists bool
	err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'locations')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "locations table should exist")

	orchestrator, err := app.NewOrchestrator(cfg, deps)
	require.NoError(t, err)

	// 1. In-process ingestion
	gelderland, err := deps.Registry.Get("gelderland-handmatig")
	require.NoError(t, err)
	summary, err := orchestrator.Run(ctx, gelderland, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)

	// 2. Distributed ingestion through NSQ
	require.NoError(t, app.CreateTopics(ctx, deps.HTTPClient, cfg.NSQDHTTP, config.TopicIngestLocation, config.TopicIngestResult))

	consumer, err := nsq.NewConsumer(config.TopicIngestLocation, config.ChannelIngestWorker, nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(worker.NewLocationConsumer(deps.Registry, orchestrator, deps.NSQProducer))
	require.NoError(t, consumer.ConnectToNSQD(suite.NSQDAddr()))
	defer consumer.Stop()

	brabant, err := deps.Registry.Get("brabant-handmatig")
	require.NoError(t, err)
	locs, err := brabant.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 1)

	n, err := worker.NewDispatcher(orchestrator, deps.NSQProducer).Dispatch(ctx, brabant, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		st, err := deps.Ledger.Get(ctx, locs[0].ID())
		return err == nil && st.Status == location.StatusCompleted
	}, 30*time.Second, 200*time.Millisecond)

	// 3. Query both documents
	svc := app.NewRetrieval(cfg, deps.Embedder, deps.Index, nil)
	res, err := svc.Query(ctx, retrieval.Request{Query: "vergunning windpark Nijkerk"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.Documents)
	assert.Equal(t, "Besluit windpark Nijkerk", res.Documents[0].Metadata.Title)

	res, err = svc.Query(ctx, retrieval.Request{
		Query:   "stikstofdepositie",
		Filters: &retrieval.RequestFilters{Categories: []string{"Noord-Brabant"}, StartDate: "2023-01-01"},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "2023-11-15", res.Documents[0].Metadata.Date)

	st, err := deps.Ledger.Get(ctx, locs[0].ID())
	require.NoError(t, err)
	count, err := deps.Index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.Results[0].Chunks+st.ChunkCount, count)
}
