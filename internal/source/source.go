// Package source resolves the report input to a local file. Plain paths are
// used as-is; gs://bucket/object URIs are downloaded into a temporary
// directory under the object's basename, so the attachment keeps its name.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// ErrNotFound is returned when the input does not exist.
var ErrNotFound = errors.New("input not found")

// Opener opens an object for reading.
type Opener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// OpenerFunc lazily creates an Opener on first use.
type OpenerFunc func(ctx context.Context) (Opener, error)

// GCSOpener reads objects from Google Cloud Storage.
type GCSOpener struct {
	client *storage.Client
}

// NewGCSOpener creates a client using Application Default Credentials.
func NewGCSOpener(ctx context.Context) (Opener, error) {
	client, err := storage.NewClient(ctx, option.WithUserAgent("compliance-mailer"))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSOpener{client: client}, nil
}

// Open returns a reader for gs://bucket/object.
func (g *GCSOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, ErrNotFound)
	}
	return r, err
}

// Close releases the underlying client.
func (g *GCSOpener) Close() error {
	return g.client.Close()
}

// Resolver turns input locations into local paths.
type Resolver struct {
	newOpener OpenerFunc
	opener    Opener
	log       *logrus.Entry
}

// NewResolver creates a Resolver. newOpener is only called for gs:// inputs.
func NewResolver(newOpener OpenerFunc, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{newOpener: newOpener, log: log.WithField("component", "source")}
}

// Fetch returns a local path for location. The cleanup function removes any
// downloaded copy and must always be called.
func (r *Resolver) Fetch(ctx context.Context, location string) (string, func(), error) {
	noop := func() {}

	bucket, object, remote := ParseGCS(location)
	if !remote {
		if _, err := os.Stat(location); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", noop, fmt.Errorf("%s: %w", location, ErrNotFound)
			}
			return "", noop, fmt.Errorf("failed to stat %s: %w", location, err)
		}
		return location, noop, nil
	}

	if object == "" || strings.HasSuffix(object, "/") {
		return "", noop, fmt.Errorf("invalid object in %q", location)
	}

	if r.opener == nil {
		opener, err := r.newOpener(ctx)
		if err != nil {
			return "", noop, err
		}
		r.opener = opener
	}

	r.log.WithFields(logrus.Fields{"bucket": bucket, "object": object}).Info("☁️ Downloading spreadsheet from GCS")
	rc, err := r.opener.Open(ctx, bucket, object)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "compliance-mailer-")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	dst := filepath.Join(dir, path.Base(object))
	f, err := os.Create(dst)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", noop, fmt.Errorf("failed to download %s: %w", location, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to write %s: %w", dst, err)
	}

	return dst, cleanup, nil
}

// Close releases the opener if one was created.
func (r *Resolver) Close() error {
	if c, ok := r.opener.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ParseGCS splits a gs://bucket/object URI. ok is false for anything else.
func ParseGCS(location string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(location, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, object, true
}
