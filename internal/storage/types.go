package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the number of kept runs. 0 keeps everything.
	Retain int
}

// RunRecord is the persisted form of one runner invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID             string       `json:"id"`
	Source         string       `json:"source"`
	Trigger        string       `json:"trigger"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	FullHarvest    bool         `json:"full_harvest"`
	FullHarvestErr string       `json:"full_harvest_err,omitempty"`
	FetchErr       string       `json:"fetch_err,omitempty"`
	Tasks          []TaskRecord `json:"tasks,omitempty"`
	OK             bool         `json:"ok"`
}

// TaskRecord is the outcome of one task-mode invocation.
type TaskRecord struct {
	Number int    `json:"number"`
	TookMS int64  `json:"took_ms"`
	Error  string `json:"error,omitempty"`
}
