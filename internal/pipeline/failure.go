// Package pipeline drives admitted jobs through charging, the external
// transformation call, settlement and retry scheduling.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/transform"
)

// Category is the pipeline's failure taxonomy. It decides retryability
// and is what operators see in job records and metrics.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryQuota   Category = "quota"
	CategoryInput   Category = "input"
	CategoryParsing Category = "parsing"
	CategoryStorage Category = "storage"
	CategoryUnknown Category = "unknown"
)

// Retryable reports whether failures of this category are worth another
// attempt. Unknown failures are not retried: an unclassified error may
// be a bug, and blind retries against a bug burn provider spend.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryQuota, CategoryParsing, CategoryStorage:
		return true
	default:
		return false
	}
}

// UserMessage is the owner-facing description for failures of this
// category. Raw provider and driver errors stay in the job record for
// operators; notifications only ever carry these.
func (c Category) UserMessage() string {
	switch c {
	case CategoryNetwork:
		return "the transcription service could not be reached"
	case CategoryQuota:
		return "the transcription service is temporarily over capacity"
	case CategoryInput:
		return "the recording could not be read; the format may be unsupported"
	case CategoryParsing:
		return "the transcription result could not be read"
	case CategoryStorage:
		return "a storage problem interrupted processing"
	default:
		return "an unexpected error interrupted processing"
	}
}

// Classify maps an error from the pipeline's dependencies onto a
// Category. Transformation failures arrive as typed variants, so no
// string matching happens here.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var tErr *transform.Error
	if errors.As(err, &tErr) {
		switch tErr.Kind {
		case transform.ErrNetwork, transform.ErrTimeout:
			return CategoryNetwork
		case transform.ErrQuota, transform.ErrRateLimited:
			return CategoryQuota
		case transform.ErrInvalidInput, transform.ErrUnsupportedFormat:
			return CategoryInput
		case transform.ErrParsing:
			return CategoryParsing
		default:
			// Auth rejections and provider-internal failures fail fast:
			// retrying a bad credential or a broken model cannot succeed.
			return CategoryUnknown
		}
	}

	var insufficient *credit.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return CategoryQuota
	}
	var unsupported *credit.UnsupportedArtifactError
	if errors.As(err, &unsupported) {
		return CategoryInput
	}
	if errors.Is(err, credit.ErrMissingDuration) {
		return CategoryInput
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return CategoryStorage
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return CategoryStorage
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}

	return CategoryUnknown
}

// RetryPolicy computes whether and when a failed attempt is retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultRetryPolicy matches the shipped configuration: three attempts
// beyond the first, 5s base, tripling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 3}
}

// ShouldRetry reports whether a failure of the given category on the
// given attempt gets another try. retryCount is how many retries have
// already happened.
func (p RetryPolicy) ShouldRetry(cat Category, retryCount int) bool {
	return cat.Retryable() && retryCount < p.MaxRetries
}

// Delay returns the exponential backoff before retry number
// retryCount+1.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < retryCount; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}
