// Package history persists completed council executions into a bounded,
// most-recent-first conversation log backed by sqlite.
package history

import (
	"time"

	"council/internal/council"
	"council/internal/session"
)

// Record is the durable form of one completed execution. Immutable once
// appended.
type Record struct {
	ID          string                      `json:"id"`
	Timestamp   time.Time                   `json:"timestamp"`
	Query       string                      `json:"query"`
	Config      *council.Definition         `json:"config"`
	Responses   map[string]session.Response `json:"responses"`
	FinalAnswer session.Response            `json:"finalAnswer"`
	TotalTokens int                         `json:"totalTokens,omitempty"`
	TotalCost   float64                     `json:"totalCost,omitempty"`
}

// Metadata is the listing view of a record: everything except the response
// bodies, so listing history never deserializes full payloads.
type Metadata struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Query        string    `json:"query"`
	TotalTokens  int       `json:"totalTokens,omitempty"`
	TotalCost    float64   `json:"totalCost,omitempty"`
	Participants int       `json:"participants"`
}
