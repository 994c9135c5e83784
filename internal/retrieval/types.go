package retrieval

import (
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
)

type Request struct {
	Query   string          `json:"query"`
	Filters *RequestFilters `json:"filters,omitempty"`
}

// RequestFilters carries dates as YYYY-MM-DD (dd-mm-yyyy is accepted too).
type RequestFilters struct {
	Categories []string `json:"categories,omitempty"`
	StartDate  string   `json:"startDate,omitempty"`
	EndDate    string   `json:"endDate,omitempty"`
}

type Metadata struct {
	URL      string `json:"url"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Type     string `json:"type"`
	Summary  string `json:"summary"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

func toMetadata(md document.Metadata) Metadata {
	return Metadata{
		URL:      md.URL,
		Category: md.Category,
		Title:    md.Title,
		Date:     document.FormatDate(md.Date),
		Type:     md.Type,
		Summary:  md.Summary,
		FileName: md.FileName,
		FileType: md.FileType,
	}
}

type ChunkResult struct {
	ID             string   `json:"id"`
	DocumentID     string   `json:"document_id"`
	Content        string   `json:"content"`
	Metadata       Metadata `json:"metadata"`
	RelevanceScore *float32 `json:"relevance_score"`
}

type DocumentResult struct {
	ID             string   `json:"id"`
	Metadata       Metadata `json:"metadata"`
	RelevanceScore *float32 `json:"relevance_score"`
	MatchedChunks  int      `json:"matched_chunks"`
}

type Response struct {
	Success        bool             `json:"success"`
	Query          string           `json:"query"`
	Chunks         []ChunkResult    `json:"chunks"`
	Documents      []DocumentResult `json:"documents"`
	TotalChunks    int              `json:"total_chunks"`
	TotalDocuments int              `json:"total_documents"`
	Error          string           `json:"error,omitempty"`
}

func emptyResponse(query string) Response {
	return Response{Success: true, Query: query, Chunks: []ChunkResult{}, Documents: []DocumentResult{}}
}

func failedResponse(query string, err error) Response {
	r := emptyResponse(query)
	r.Success = false
	r.Error = err.Error()
	return r
}
