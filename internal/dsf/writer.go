package dsf

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/geometry"
	"github.com/JakeFAU/terrain-tiler/internal/hash/sha256"
	"github.com/JakeFAU/terrain-tiler/internal/metrics"
	"github.com/JakeFAU/terrain-tiler/internal/storage"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

// Hasher digests rendered output.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Result describes a written tile text file.
type Result struct {
	URI         string
	Definitions int
	Polygons    int
	Bytes       int64
	Digest      string
}

// Writer renders tiles and stores them through a storage.BlobStore.
type Writer struct {
	store  storage.BlobStore
	hasher Hasher
	logger *zap.Logger
	opts   Options
}

// NewWriter constructs a Writer. A nil hasher defaults to SHA-256 and a nil
// logger to a no-op logger.
func NewWriter(store storage.BlobStore, hasher Hasher, logger *zap.Logger, opts Options) *Writer {
	if hasher == nil {
		hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, hasher: hasher, logger: logger, opts: opts}
}

// Write renders d for t and stores it at path. The file is rendered in memory
// and handed to the store in one piece, so nothing is visible at path unless
// the whole rendering succeeded. Failures are logged and returned.
func (w *Writer) Write(
	ctx context.Context,
	t tile.Tile,
	d geometry.Dict,
	defs geometry.Definitions,
	path string,
) (Result, error) {
	logger := w.logger.With(zap.String("tile", t.Name()), zap.String("path", path))

	var buf bytes.Buffer
	stats, err := Render(&buf, t, d, defs, w.opts)
	if err != nil {
		return w.fail(logger, "render tile text", err)
	}
	if err := ctx.Err(); err != nil {
		return w.fail(logger, "write tile text", err)
	}

	digest, err := w.hasher.Hash(buf.Bytes())
	if err != nil {
		return w.fail(logger, "digest tile text", err)
	}
	size := int64(buf.Len())
	uri, err := w.store.PutObject(ctx, path, storage.ContentTypeText, &buf)
	if err != nil {
		return w.fail(logger, "store tile text", err)
	}

	metrics.ObserveTileWritten(metrics.ResultSuccess, stats.Polygons)
	logger.Info("tile text written",
		zap.String("uri", uri),
		zap.Int("definitions", stats.Definitions),
		zap.Int("polygons", stats.Polygons),
		zap.Int64("bytes", size),
	)
	return Result{
		URI:         uri,
		Definitions: stats.Definitions,
		Polygons:    stats.Polygons,
		Bytes:       size,
		Digest:      digest,
	}, nil
}

func (w *Writer) fail(logger *zap.Logger, op string, err error) (Result, error) {
	metrics.ObserveTileWritten(metrics.ResultFailure, 0)
	logger.Error("could not write tile text", zap.String("op", op), zap.Error(err))
	return Result{}, fmt.Errorf("%s: %w", op, err)
}
