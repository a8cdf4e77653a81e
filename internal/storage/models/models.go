package models

import "time"

// Source is one catalog entry for an ingested table or document.
type Source struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceType string    `json:"source_type"` // "table" or "document"
	NumRows    int       `json:"num_rows"`
	NumColumns int       `json:"num_columns"`
	NumChunks  int       `json:"num_chunks"`
	NumQAPairs int       `json:"num_qa_pairs"`
	IngestedAt time.Time `json:"ingested_at"`
}

// QueryRecord is one processed query with its outcome.
type QueryRecord struct {
	ID        string    `json:"id"`
	QueryText string    `json:"query_text"`
	Intent    string    `json:"intent"`
	Narrative string    `json:"narrative"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	LatencyMS int       `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
