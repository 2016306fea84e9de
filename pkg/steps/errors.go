package steps

import (
	"errors"
	"fmt"
)

// DownloadError marks a network, transport or integrity failure while
// fetching an artifact. Callers offer a retry for these instead of a bug report.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsDownloadError reports whether err is, or wraps, a download-class failure.
func IsDownloadError(err error) bool {
	var de *DownloadError
	return errors.As(err, &de)
}
