package steps

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

const apkPattern = "*.apk"

// listAPKs returns the absolute paths of the APKs directly inside dir, sorted.
func listAPKs(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), apkPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q in %s: %w", apkPattern, dir, err)
	}
	slices.Sort(matches)

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return paths, nil
}

// copyFile copies src to dst through a temporary file so dst is never
// observed half written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(dst), err)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	_, copyErr := io.Copy(out, in)
	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", dst, copyErr)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("moving %s into place: %w", dst, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
