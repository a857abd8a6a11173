package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-scrape-products/parser"
)

// FetchError indicates a failed page fetch: network error, non-success
// status, or an empty body. One item's fetch failure never aborts the run.
type FetchError struct {
	ASIN   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.ASIN, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.ASIN, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// errorTypeLabel buckets an error into the label set used by the metrics and
// the run summary.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Status != 0 {
		switch fetchErr.Status {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		default:
			return "http_error"
		}
	}

	var extractErr *parser.ExtractError
	if errors.As(err, &extractErr) {
		return "extract"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}

	return "other"
}
