package gscluster

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCorpus is returned when there are no report URLs to build a
	// vector space from.
	ErrEmptyCorpus = errors.New("no report URLs to cluster")

	// ErrNoSimilarityMatch is returned when a reference URL shares no term
	// with any report URL.
	ErrNoSimilarityMatch = errors.New("no similar report URL")

	// ErrNoToken is returned by TokenStore.Load when nothing was saved yet.
	ErrNoToken = errors.New("no stored token")
)

// FetchError is returned when the reporting API cannot be reached or answers
// with a non-200 status.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search console fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("search console error (status %d): %s", e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
