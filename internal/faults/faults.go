// Package faults classifies failures from the analysis workflow and
// decides retryability. Classification is derived from status codes and
// message text only, so it works regardless of which transport produced
// the error.
package faults

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// Kind is the failure classification.
type Kind string

const (
	// TransientNetwork covers connection and timeout shaped failures.
	TransientNetwork Kind = "transient-network"
	// TransientServer covers 5xx and rate-limit shaped failures.
	TransientServer Kind = "transient-server"
	// PayloadTooLarge covers 413 responses.
	PayloadTooLarge Kind = "payload-too-large"
	// Domain covers analysis-specific failures such as no fish detected.
	Domain Kind = "domain"
	// Auth covers 401/403 responses.
	Auth Kind = "auth"
	// NotFound covers 404 responses.
	NotFound Kind = "not-found"
	// Validation covers caller errors rejected before any remote call.
	Validation Kind = "validation"
	// Timeout covers the orchestrator's polling ceiling, distinct from a
	// remote-reported failure.
	Timeout Kind = "timeout"
	// Unknown covers everything else.
	Unknown Kind = "unknown"
)

// Retryable reports whether failures of this kind should be retried
// automatically.
func (k Kind) Retryable() bool {
	return k == TransientNetwork || k == TransientServer
}

// Classification is the user-facing interpretation of a failure: a kind,
// a human-readable message, and recovery suggestions. Raw transport text
// never appears in Message.
type Classification struct {
	Kind        Kind
	Message     string
	Suggestions []string
}

// statusCoder is satisfied by normalized API errors. Matching on the
// interface keeps this package independent of the transport that
// produced the error.
type statusCoder interface {
	HTTPStatus() int
	Error() string
}

// KindError is a locally originated failure that carries its own kind,
// bypassing status and message-shape inspection.
type KindError struct {
	Kind    Kind
	Message string
}

func (e *KindError) Error() string { return e.Message }

// Classify maps an error to its classification.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: Unknown, Message: "unknown error"}
	}

	var ke *KindError
	if errors.As(err, &ke) {
		cls := describe(ke.Kind)
		if ke.Message != "" {
			cls.Message = ke.Message
		}
		return cls
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return describe(TransientNetwork)
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus(), sc.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return describe(TransientNetwork)
	}

	msg := strings.ToLower(err.Error())
	if looksLikeConnectionFailure(msg) {
		return describe(TransientNetwork)
	}
	if looksLikeDomainFailure(msg) {
		return describe(Domain)
	}

	return describe(Unknown)
}

func classifyStatus(status int, message string) Classification {
	msg := strings.ToLower(message)

	switch {
	case status == http.StatusRequestEntityTooLarge:
		return describe(PayloadTooLarge)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return describe(Auth)
	case status == http.StatusNotFound:
		return describe(NotFound)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return describe(TransientServer)
	case status >= 500:
		if looksLikeDomainFailure(msg) {
			return describe(Domain)
		}
		return describe(TransientServer)
	case looksLikeDomainFailure(msg):
		return describe(Domain)
	case status >= 400:
		return describe(Validation)
	}

	if looksLikeConnectionFailure(msg) {
		return describe(TransientNetwork)
	}
	return describe(Unknown)
}

func looksLikeConnectionFailure(msg string) bool {
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "timeout")
}

func looksLikeDomainFailure(msg string) bool {
	return strings.Contains(msg, "no fish detected") ||
		strings.Contains(msg, "no fish found") ||
		strings.Contains(msg, "model not ready") ||
		strings.Contains(msg, "model is not loaded") ||
		strings.Contains(msg, "no valid images")
}

func describe(kind Kind) Classification {
	switch kind {
	case TransientNetwork:
		return Classification{
			Kind:    kind,
			Message: "Could not reach the analysis service.",
			Suggestions: []string{
				"Check your network connection.",
				"Verify the analysis service is running.",
			},
		}
	case TransientServer:
		return Classification{
			Kind:    kind,
			Message: "The analysis service is temporarily unavailable.",
			Suggestions: []string{
				"Wait a moment and try again.",
			},
		}
	case PayloadTooLarge:
		return Classification{
			Kind:    kind,
			Message: "The upload is too large for the analysis service.",
			Suggestions: []string{
				"Try fewer images per batch.",
				"Reduce image resolution before uploading.",
			},
		}
	case Domain:
		return Classification{
			Kind:    kind,
			Message: "The analysis service could not process these images.",
			Suggestions: []string{
				"Make sure each image contains a clearly visible fish.",
				"Check that the calibration grid is visible in the frame.",
			},
		}
	case Auth:
		return Classification{
			Kind:        kind,
			Message:     "You are not authorized to use the analysis service.",
			Suggestions: []string{"Check your credentials."},
		}
	case NotFound:
		return Classification{
			Kind:    kind,
			Message: "The requested batch was not found on the analysis service.",
			Suggestions: []string{
				"The batch may have expired; start a new analysis.",
			},
		}
	case Validation:
		return Classification{
			Kind:    kind,
			Message: "The request was rejected before it was sent.",
			Suggestions: []string{
				"A batch needs at least 2 images.",
			},
		}
	case Timeout:
		return Classification{
			Kind:    kind,
			Message: "The analysis did not finish in time.",
			Suggestions: []string{
				"Try fewer images per batch.",
				"Check the analysis service for stuck jobs.",
			},
		}
	default:
		return Classification{
			Kind:        Unknown,
			Message:     "An unexpected error occurred.",
			Suggestions: []string{"Try again; if the problem persists, check the service logs."},
		}
	}
}

// Describe returns the canned classification for a kind without an
// underlying error, used for locally originated failures.
func Describe(kind Kind) Classification {
	return describe(kind)
}

// Backoff returns the delay before retry attempt number attempt,
// doubling from base: attempt 0 waits base, attempt 1 waits 2*base, and
// so on. Attempt is the current retry count before it is incremented.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}
