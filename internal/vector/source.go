// Package vector provides the feature sources the geometry collector reads.
package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrStop can be returned by a FeatureFunc to end iteration early without
// reporting an error.
var ErrStop = errors.New("stop iteration")

// FeatureFunc receives one feature. Returning an error ends the iteration.
type FeatureFunc func(*geojson.Feature) error

// Source is an iterable collection of vector features.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Features calls fn for every feature whose bound intersects bbox, or for
	// every feature when bbox is nil. It stops when ctx ends or fn fails.
	Features(ctx context.Context, bbox *orb.Bound, fn FeatureFunc) error
}

// MemorySource serves features held in memory.
type MemorySource struct {
	name     string
	features []*geojson.Feature
}

// NewMemorySource wraps the given features.
func NewMemorySource(name string, features ...*geojson.Feature) *MemorySource {
	return &MemorySource{name: name, features: features}
}

// Name implements Source.
func (s *MemorySource) Name() string {
	return s.name
}

// Features implements Source.
func (s *MemorySource) Features(ctx context.Context, bbox *orb.Bound, fn FeatureFunc) error {
	return iterate(ctx, s.features, bbox, fn)
}

// FileSource reads a GeoJSON FeatureCollection from disk on first use and
// serves it to any number of concurrent readers.
type FileSource struct {
	name string
	path string

	once     sync.Once
	features []*geojson.Feature
	err      error
}

// NewFileSource returns a source backed by the GeoJSON file at path.
func NewFileSource(name, path string) *FileSource {
	if name == "" {
		name = path
	}
	return &FileSource{name: name, path: path}
}

// Name implements Source.
func (s *FileSource) Name() string {
	return s.name
}

// Features implements Source.
func (s *FileSource) Features(ctx context.Context, bbox *orb.Bound, fn FeatureFunc) error {
	s.once.Do(s.load)
	if s.err != nil {
		return s.err
	}
	return iterate(ctx, s.features, bbox, fn)
}

func (s *FileSource) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.err = fmt.Errorf("read vector source %s: %w", s.name, err)
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		s.err = fmt.Errorf("decode vector source %s: %w", s.name, err)
		return
	}
	s.features = fc.Features
}

func iterate(ctx context.Context, features []*geojson.Feature, bbox *orb.Bound, fn FeatureFunc) error {
	for _, f := range features {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("iterate features: %w", err)
		}
		if f == nil || f.Geometry == nil {
			continue
		}
		if bbox != nil && !f.Geometry.Bound().Intersects(*bbox) {
			continue
		}
		if err := fn(f); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
