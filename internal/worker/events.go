package worker

import (
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

// LocationTask is published on config.TopicIngestLocation, one per location.
type LocationTask struct {
	Location      source.Location `json:"location"`
	Force         bool            `json:"force"`
	CorrelationID string          `json:"correlation_id"`
}

// LocationResult is published on config.TopicIngestResult after processing.
type LocationResult struct {
	LocationID    string         `json:"location_id"`
	Origin        string         `json:"origin"`
	URL           string         `json:"url"`
	Outcome       ingest.Outcome `json:"outcome"`
	DocumentID    string         `json:"document_id,omitempty"`
	Chunks        int            `json:"chunks"`
	Error         string         `json:"error,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}
