// Package store keeps a log of generation outcomes. It records metadata only
// (lengths, counts, states); question and solution text are never stored.
package store

import (
	"context"
	"time"
)

// Record is one finished generation
type Record struct {
	ID              int64
	Source          string // "http" or "ws"
	Mode            string // "stream" or "solve"
	Seed            *int
	QuestionLength  int
	CredentialIndex int
	Attempts        int
	State           string
	FailureStage    string
	Fragments       int
	Bytes           int
	Duration        time.Duration
	CreatedAt       time.Time
}

// Stats aggregates records created since a point in time
type Stats struct {
	Since     time.Time      `json:"since"`
	Total     int            `json:"total"`
	ByState   map[string]int `json:"by_state"`
	Fragments int            `json:"fragments"`
	Bytes     int            `json:"bytes"`
}

// Store persists generation records
type Store interface {
	RecordGeneration(ctx context.Context, rec *Record) error
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

func newStats(since time.Time) *Stats {
	return &Stats{Since: since, ByState: make(map[string]int)}
}
