// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package modulesource fetches module images from local files, Google Cloud Storage ("gs://bucket/object")
// or HTTP(S) servers.
//
// Missing modules are reported with errors that match os.ErrNotExist (use errors.Is).
package modulesource

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gomlx/hostrt/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Fetcher fetches module images. The zero value is ready to use.
type Fetcher struct {
	// HTTPClient used for http(s) URIs, defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Progress, if set, is called when a remote download starts, with the URI and the expected size
	// in bytes (-1 if unknown). The returned writer receives a copy of the downloaded bytes, e.g. a
	// progress bar. If it implements io.Closer, it is closed at the end of the download.
	Progress func(uri string, size int64) io.Writer

	// CacheDir, if set, is where remote images are cached: subsequent fetches of the same URI read
	// the cached file.
	CacheDir string
}

// Fetch returns the contents of the module image at uri using a default Fetcher.
func Fetch(ctx context.Context, uri string) ([]byte, error) {
	return (&Fetcher{}).Fetch(ctx, uri)
}

// Fetch returns the contents of the module image at uri: a local path (a leading "~" is expanded), "file://path",
// "gs://bucket/object" or "http(s)://...".
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // Single letter schemes are Windows drives.
		return readFile(uri)
	}
	switch u.Scheme {
	case "file":
		return readFile(u.Path)
	case "gs", "http", "https":
		return f.fetchRemote(ctx, u)
	}
	return nil, errors.Errorf("unsupported module URI scheme %q in %q", u.Scheme, uri)
}

func readFile(filePath string) ([]byte, error) {
	filePath, err := fsutil.ExpandHome(filePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading module file")
	}
	return data, nil
}

// fetchRemote downloads the image, going through the cache if one is configured.
func (f *Fetcher) fetchRemote(ctx context.Context, u *url.URL) ([]byte, error) {
	log := klog.FromContext(ctx)
	uri := u.String()
	var cachePath string
	if f.CacheDir != "" {
		cacheDir, err := fsutil.ExpandHome(f.CacheDir)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(uri))
		cachePath = filepath.Join(cacheDir, hex.EncodeToString(digest[:])+filepath.Ext(u.Path))
		if cached, err := fsutil.FileExists(cachePath); err == nil && cached {
			log.V(1).Info("module found in cache", "uri", uri, "path", cachePath)
			return readFile(cachePath)
		}
	}

	startedAt := time.Now()
	var buf bytes.Buffer
	var err error
	if u.Scheme == "gs" {
		err = f.downloadGCS(ctx, u, &buf)
	} else {
		err = f.downloadHTTP(ctx, uri, &buf)
	}
	if err != nil {
		return nil, err
	}
	log.Info("downloaded module", "uri", uri, "bytes", buf.Len(), "duration", time.Since(startedAt))

	if cachePath != "" {
		if err := writeToFile(ctx, buf.Bytes(), cachePath); err != nil {
			log.Error(err, "caching module", "uri", uri, "path", cachePath)
		}
	}
	return buf.Bytes(), nil
}

// copyWithProgress copies src into dst, reporting to the Progress writer if configured.
func (f *Fetcher) copyWithProgress(uri string, size int64, dst io.Writer, src io.Reader) error {
	if f.Progress != nil {
		if progress := f.Progress(uri, size); progress != nil {
			dst = io.MultiWriter(dst, progress)
			if closer, ok := progress.(io.Closer); ok {
				defer func() { _ = closer.Close() }()
			}
		}
	}
	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "downloading %q", uri)
	}
	return nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, uri string, w io.Writer) error {
	log := klog.FromContext(ctx)
	log.V(1).Info("downloading from url", "url", uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return errors.Wrapf(err, "creating request for %q", uri)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "requesting %q", uri)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrapf(os.ErrNotExist, "module %q not found", uri)
		}
		return errors.Errorf("unexpected status downloading %q: %v", uri, resp.Status)
	}
	return f.copyWithProgress(uri, resp.ContentLength, w, resp.Body)
}

func (f *Fetcher) downloadGCS(ctx context.Context, u *url.URL, w io.Writer) error {
	bucket, object := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return errors.Errorf("invalid Cloud Storage URI %q, expected gs://bucket/object", u)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return errors.Wrap(err, "creating GCS storage client")
	}
	defer func() { _ = client.Close() }()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return errors.Wrapf(os.ErrNotExist, "module %q not found", u)
		}
		return errors.Wrapf(err, "opening object %q", u)
	}
	defer func() { _ = r.Close() }()
	return f.copyWithProgress(u.String(), r.Attrs.Size, w, r)
}

// writeToFile writes data to a temporary file in the directory of destinationPath, and renames it,
// so readers never see partially written files.
func writeToFile(ctx context.Context, data []byte, destinationPath string) error {
	log := klog.FromContext(ctx)
	dir := filepath.Dir(destinationPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating cache directory %q", dir)
	}
	tempFile, err := os.CreateTemp(dir, "module")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tempFile.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return errors.Wrap(err, "renaming temp file")
	}
	shouldDeleteTempFile = false
	return nil
}
