package fetcher

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Common errors returned by the fetcher.
var (
	// ErrCancelled is returned when the caller's context ends before a page arrives.
	// Callers treat it as a non-error and must not mutate any cache.
	ErrCancelled = errors.New("fetch cancelled")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("invalid page number")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses and undecodable payloads.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 (and 520) throttling responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError is a classified failure for one page request.
type FetchError struct {
	Class   ErrorClass
	PageNum int
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d (%s): %v", e.PageNum, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Classify categorizes err for retry decisions and observability.
// Context errors are not classified here; callers check for them first.
func Classify(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	var rejected *search.RejectedError
	if errors.As(err, &rejected) || errors.Is(err, search.ErrMalformedResponse) {
		return ErrorClassClient
	}

	// transport failures, timeouts and anything unrecognized
	return ErrorClassNetwork
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || status == 520:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx and bad payloads will not change on retry
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
