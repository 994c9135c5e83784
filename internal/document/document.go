// Package document holds the records that flow from extraction into the vector index.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/text"
)

// Metadata is copied from a Record onto every one of its chunks.
type Metadata struct {
	URL      string    `json:"url"`
	Category string    `json:"category"`
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Type     string    `json:"type"`
	Summary  string    `json:"summary"`
	FileName string    `json:"file_name"`
	FileType string    `json:"file_type"`
}

// Record is one extracted document. Records are never mutated; a changed file
// at the same location produces a new Record with a new ID.
type Record struct {
	ID          string
	LocationID  string
	ContentHash string
	Text        string
	Metadata    Metadata
}

// NewRecord derives the record identity from the location and the file content hash.
func NewRecord(locationID, contentHash, body string, md Metadata) Record {
	return Record{
		ID:          RecordID(locationID, contentHash),
		LocationID:  locationID,
		ContentHash: contentHash,
		Text:        body,
		Metadata:    md,
	}
}

func RecordID(locationID, contentHash string) string {
	sum := sha256.Sum256([]byte(locationID + "\n" + contentHash))
	return hex.EncodeToString(sum[:])[:32]
}

// Chunk is a window of a Record's text. Start and End are rune offsets.
type Chunk struct {
	ID         string
	DocumentID string
	LocationID string
	Index      int
	Start      int
	End        int
	Overlap    int
	Text       string
	Metadata   Metadata
}

// Entry is the persisted unit of the vector index.
type Entry struct {
	Chunk
	Vector []float32
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// DocumentIDFromChunkID returns the document part of a chunk ID.
func DocumentIDFromChunkID(chunkID string) string {
	if i := strings.LastIndexByte(chunkID, ':'); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}

// Split chunks the record text into windows of size runes with the given overlap.
func Split(r Record, size, overlap int) ([]Chunk, error) {
	windows, err := text.Split(r.Text, size, overlap)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{
			ID:         ChunkID(r.ID, w.Index),
			DocumentID: r.ID,
			LocationID: r.LocationID,
			Index:      w.Index,
			Start:      w.Start,
			End:        w.End,
			Overlap:    w.Overlap,
			Text:       w.Text,
			Metadata:   r.Metadata,
		}
	}
	return chunks, nil
}
