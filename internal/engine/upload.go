package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

// Asset is one locally selected photo awaiting submission.
type Asset struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ObjectStore is the durable, key-addressed storage collaborator.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// ProgressFunc receives upload progress in percent (0-100).
type ProgressFunc func(percent int)

// Uploader moves a local asset to durable storage and resolves an
// opaque source reference. When the durable write fails for any reason
// it falls back, synchronously, to an inline base64 data URI; the two
// outcomes are indistinguishable to downstream components. Only a
// failure of both paths surfaces as an error.
type Uploader struct {
	store  ObjectStore
	logger zerolog.Logger
}

// NewUploader builds an Uploader. store may be nil, in which case every
// upload takes the inline fallback.
func NewUploader(store ObjectStore, logger zerolog.Logger) *Uploader {
	return &Uploader{store: store, logger: logger}
}

// Upload returns the source reference for the asset. The key is
// namespaced by user and carries a per-call suffix so concurrent batch
// items can never collide. progress may be nil.
func (u *Uploader) Upload(ctx context.Context, userID string, asset Asset, progress ProgressFunc) (string, error) {
	if len(asset.Data) == 0 {
		return "", fmt.Errorf("%w: empty asset", domain.ErrInvalidAsset)
	}
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	if u.store != nil {
		key := objectKey(userID, asset.Filename)
		report(0)
		reader := &progressReader{
			r:      bytes.NewReader(asset.Data),
			total:  int64(len(asset.Data)),
			report: report,
		}
		url, err := u.store.Put(ctx, key, reader, int64(len(asset.Data)), asset.ContentType)
		if err == nil {
			report(100)
			return url, nil
		}
		// Storage failure alone never surfaces; fall back silently.
		u.logger.Warn().Err(err).Str("key", key).Msg("upload: durable write failed, using inline reference")
	}

	ref, err := inlineReference(asset)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	// Inline encoding is not chunked: completion only.
	report(0)
	report(100)
	return ref, nil
}

// inlineReference encodes the asset as a self-contained data URI.
func inlineReference(asset Asset) (string, error) {
	if len(asset.Data) == 0 {
		return "", fmt.Errorf("empty asset")
	}
	ct := asset.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(asset.Data), nil
}

// objectKey namespaces by user identity with a timestamp plus random
// suffix so items submitted in the same nanosecond still get distinct keys.
func objectKey(userID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("originals/%s/%d-%s%s", userID, time.Now().UnixNano(), suffix, ext)
}

// progressReader reports consumption percentage as the store drains it.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
