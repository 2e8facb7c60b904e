// Package assets downloads scanned tally sheets and logos into a blob store
// under deterministic filenames, skipping anything already stored.
package assets

import (
	"bytes"
	"context"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
	"github.com/JakeFAU/cne-results-crawler/internal/storage"
)

// Download outcomes reported to metrics.
const (
	outcomeCached     = "cached"
	outcomeDownloaded = "downloaded"
	outcomeFailed     = "failed"
)

// Store implements crawler.AssetDownloader.
type Store struct {
	blobs  storage.BlobStore
	getter crawler.Getter
	logger *zap.Logger
}

var _ crawler.AssetDownloader = (*Store)(nil)

// New builds a Store.
func New(blobs storage.BlobStore, getter crawler.Getter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blobs: blobs, getter: getter, logger: logger}
}

// Download stores url as folder/filename and returns filename. A non-empty
// object already present short-circuits without any network call. Failures
// are logged at debug level and reported as ok=false.
func (s *Store) Download(ctx context.Context, url, folder, filename string) (string, bool) {
	if strings.TrimSpace(url) == "" || filename == "" {
		return "", false
	}
	key := path.Join(folder, filename)

	if size, err := s.blobs.Size(ctx, key); err == nil && size > 0 {
		metrics.ObserveAsset(folder, outcomeCached)
		return filename, true
	}

	body, err := s.getter.Get(ctx, url)
	if err != nil {
		metrics.ObserveAsset(folder, outcomeFailed)
		s.logger.Debug("Asset download failed",
			zap.String("file", key),
			zap.Error(err),
		)
		return "", false
	}
	if len(body) == 0 {
		metrics.ObserveAsset(folder, outcomeFailed)
		s.logger.Debug("Asset download returned an empty body", zap.String("file", key))
		return "", false
	}

	if _, err := s.blobs.PutObject(ctx, key, contentType(filename), bytes.NewReader(body)); err != nil {
		metrics.ObserveAsset(folder, outcomeFailed)
		s.logger.Warn("Failed to store asset",
			zap.String("file", key),
			zap.Error(err),
		)
		return "", false
	}
	metrics.ObserveAsset(folder, outcomeDownloaded)
	return filename, true
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
