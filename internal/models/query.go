package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned when a query is blank.
var ErrEmptyQuery = errors.New("query cannot be empty")

// QueryRequest is a question submitted to the assistant.
type QueryRequest struct {
	Query  string `json:"query"`
	Stream bool   `json:"stream,omitempty"`
	TopK   int    `json:"top_k,omitempty"`
}

// Validate trims the query and rejects blank input.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.TopK < 0 {
		q.TopK = 0
	}
	return nil
}

// Source is a citation attached to an answer.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// Answer is a generated answer with the sources it was grounded on.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Stream event types, in emission order.
const (
	EventStart   = "start"
	EventChunk   = "chunk"
	EventSources = "sources"
	EventEnd     = "end"
	EventError   = "error"
)

// StreamEvent is one line of a streamed answer.
type StreamEvent struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
}
