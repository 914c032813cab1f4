// Package publisher announces finished tile artifacts to downstream consumers
// such as the external format compiler.
package publisher

import (
	"context"
	"time"
)

// TileBuilt is the notification sent once a tile's text representation has
// been stored.
type TileBuilt struct {
	RunID       string    `json:"run_id"`
	Tile        string    `json:"tile"`
	URI         string    `json:"uri"`
	Digest      string    `json:"sha256"`
	Definitions int       `json:"definitions"`
	Polygons    int       `json:"polygons"`
	Bytes       int64     `json:"bytes"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, msg TileBuilt) (string, error)
}

// Nop drops every message. It is used when no topic is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, TileBuilt) (string, error) { return "", nil }
