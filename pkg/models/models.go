// Package models defines the data structures exchanged between the Daktela
// API client, the record transformer and the output sink.
package models

// RawRecord is a single JSON object as returned by a Daktela list endpoint.
type RawRecord map[string]interface{}

// Row is a flattened, cleaned output row keyed by sanitized column name.
type Row map[string]interface{}

// Page is the decoded result envelope of one paginated list call.
type Page struct {
	// Total is the server-reported number of records matching the query
	Total int
	// Data holds the records of this page
	Data []RawRecord
}

// ListResponse mirrors the Daktela API v6 list envelope.
type ListResponse struct {
	Error  interface{} `json:"error"`
	Result struct {
		Total int         `json:"total"`
		Data  []RawRecord `json:"data"`
	} `json:"result"`
}

// LoginResponse mirrors the Daktela API v6 login envelope. Result is either
// an object carrying accessToken or, on some instances, the raw token string.
type LoginResponse struct {
	Error  interface{} `json:"error"`
	Result interface{} `json:"result"`
}

// TableStats summarizes one extracted table for logging and run state.
type TableStats struct {
	Endpoint   string `json:"endpoint"`
	Table      string `json:"table"`
	Records    int    `json:"records"`
	Rows       int    `json:"rows"`
	Pages      int    `json:"pages"`
	InvalidIDs int    `json:"invalid_ids,omitempty"`
	// SkippedIDs counts parent ids whose dependent fetch failed after retries
	SkippedIDs int    `json:"skipped_ids,omitempty"`
	FilterDrop bool   `json:"filter_dropped,omitempty"`
}
