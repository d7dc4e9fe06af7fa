// Package classify tags a stage's raised error with a category and a
// retryable flag (C1, §4.1), which internal/retry's retrier uses to decide
// whether to retry or fail a stage outright.
package classify

import (
	"strconv"
	"strings"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// StatusCoder is implemented by errors that carry an HTTP-ish status code,
// e.g. from a DataExtractor or AnalysisAgent talking to an external API.
type StatusCoder interface {
	StatusCode() int
}

// Classify tags err with a category, retryable flag, and user-facing
// message, attributing the failure to stage. A nil err returns nil.
func Classify(err error, stage domain.StageName) *domain.ClassifiedError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case mentionsAny(msg, "validation", "missing content", "missing scoring"):
		return classified(domain.CategoryValidation, false, err, stage)
	case mentionsAny(msg, "duplicate"):
		return classified(domain.CategoryDuplicate, false, err, stage)
	case mentionsAny(msg, "timeout", "timed out"):
		return classified(domain.CategoryTimeout, true, err, stage)
	case mentionsAny(msg, "storage", "database", "constraint"):
		return classified(domain.CategoryStorage, isTransientStatus(err), err, stage)
	case mentionsAny(msg, "api", "network", "fetch", "http"):
		return classified(domain.CategoryAPI, apiRetryable(err), err, stage)
	default:
		return classified(domain.CategoryProcessing, false, err, stage)
	}
}

func mentionsAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// apiRetryable implements §4.1: retryable iff the status code is absent or
// in {408, 425, 429, 5xx}.
func apiRetryable(err error) bool {
	sc, ok := err.(StatusCoder)
	if !ok {
		return true
	}
	code := sc.StatusCode()
	return isRetryableStatus(code)
}

// isTransientStatus mirrors apiRetryable for storage errors: retryable only
// for transient status/error codes (connection reset, deadlock, etc.) —
// when the error doesn't carry a status code at all it's treated as
// non-transient, since most storage failures (constraint violations) aren't.
func isTransientStatus(err error) bool {
	sc, ok := err.(StatusCoder)
	if !ok {
		return false
	}
	return isRetryableStatus(sc.StatusCode())
}

func isRetryableStatus(code int) bool {
	if code == 0 {
		return true
	}
	switch code {
	case 408, 425, 429:
		return true
	}
	return code >= 500 && code < 600
}

func classified(cat domain.ErrorCategory, retryable bool, err error, stage domain.StageName) *domain.ClassifiedError {
	return &domain.ClassifiedError{
		Category:    cat,
		Retryable:   retryable,
		UserMessage: userMessage(cat),
		Stage:       stage,
		Original:    err.Error(),
	}
}

func userMessage(cat domain.ErrorCategory) string {
	switch cat {
	case domain.CategoryValidation:
		return "the data failed validation and could not be processed"
	case domain.CategoryAPI:
		return "a call to an external API failed"
	case domain.CategoryTimeout:
		return "the operation timed out"
	case domain.CategoryDuplicate:
		return "the record was rejected as a duplicate"
	case domain.CategoryStorage:
		return "a storage operation failed"
	default:
		return "an unexpected error occurred while processing"
	}
}

// FormatStatusCode is a small helper for constructing status-carrying errors
// in tests and adapters without importing strconv at every call site.
func FormatStatusCode(code int) string {
	return strconv.Itoa(code)
}
