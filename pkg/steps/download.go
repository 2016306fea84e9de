package steps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const downloadChunkSize = 32 * 1024

// DownloadStep fetches one artifact. When a cache directory is set the
// download persists there, keyed by version, and is reused on later runs;
// the artifact is then copied into the destination directory for patching.
type DownloadStep struct {
	State

	kind     Kind
	url      string
	name     string
	cacheDir string
	destDir  string
	client   *http.Client
}

// NewDownloadStep creates a download step writing destDir/name.
// An empty cacheDir disables persistence.
func NewDownloadStep(kind Kind, url, name, cacheDir, destDir string, client *http.Client) *DownloadStep {
	if client == nil {
		client = http.DefaultClient
	}
	return &DownloadStep{
		kind:     kind,
		url:      url,
		name:     name,
		cacheDir: cacheDir,
		destDir:  destDir,
		client:   client,
	}
}

func (s *DownloadStep) Kind() Kind   { return s.kind }
func (s *DownloadStep) Group() Group { return GroupDownloading }

// URL returns the resolved artifact URL.
func (s *DownloadStep) URL() string { return s.url }

// Output is the path of the artifact inside the destination directory.
func (s *DownloadStep) Output() string { return filepath.Join(s.destDir, s.name) }

// CachedPath is where the artifact persists between runs, or "" if it does not.
func (s *DownloadStep) CachedPath() string {
	if s.cacheDir == "" {
		return ""
	}
	return filepath.Join(s.cacheDir, s.name)
}

func (s *DownloadStep) Run(ctx context.Context, sctx StepContext) error {
	return s.Track(sctx, func() error {
		log := sctx.logger().With("step", s.kind)

		cached := s.CachedPath()
		if cached == "" {
			log.Info("downloading", "url", s.url)
			return s.fetch(ctx, s.Output())
		}

		if fileExists(cached) {
			log.Info("using cached download", "path", cached)
		} else {
			log.Info("downloading", "url", s.url)
			if err := s.fetch(ctx, cached); err != nil {
				return err
			}
		}

		if err := copyFile(cached, s.Output()); err != nil {
			return fmt.Errorf("copying %s to patch directory: %w", s.name, err)
		}
		return nil
	})
}

func (s *DownloadStep) fetch(ctx context.Context, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &DownloadError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: s.url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(dst), err)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	written, copyErr := s.copyBody(ctx, out, resp.Body, resp.ContentLength)
	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		copyErr = fmt.Errorf("closing %s: %w", tmp, closeErr)
	}
	if copyErr == nil && resp.ContentLength > 0 && written != resp.ContentLength {
		copyErr = &DownloadError{
			URL: s.url,
			Err: fmt.Errorf("received %d of %d bytes", written, resp.ContentLength),
		}
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return copyErr
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("moving %s into place: %w", dst, err)
	}
	return nil
}

// copyBody streams body into w, checking ctx between chunks.
func (s *DownloadStep) copyBody(ctx context.Context, w io.Writer, body io.Reader, total int64) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var written int64
	lastReport := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("writing download: %w", err)
			}
			written += int64(n)

			if total > 0 && time.Since(lastReport) >= 50*time.Millisecond {
				s.SetProgress(float64(written) / float64(total))
				lastReport = time.Now()
			}
		}

		if readErr == io.EOF {
			if total > 0 {
				s.SetProgress(1)
			}
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, &DownloadError{URL: s.url, Err: readErr}
		}
	}
}
