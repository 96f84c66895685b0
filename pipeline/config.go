package pipeline

import (
	"log/slog"
	"time"

	"github.com/fairwaylabs/fairway/acquire"
)

// Config configures the processing service.
type Config struct {
	// DataDir is the root of all persisted state: partition directories,
	// the allocation lock, and the max-identity cache.
	DataDir string

	// HistoryPath is the SQLite history log. Empty disables history.
	HistoryPath string

	// Acquire configures the asset acquisition engine.
	Acquire acquire.Config

	// RenderTimeout bounds rendering plus extraction for one document.
	// Default: 2m.
	RenderTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
