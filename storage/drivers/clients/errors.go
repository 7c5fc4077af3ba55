package clients

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"github.com/sanlink/sanlink/shared/api"
)

// ErrorKind classifies a failed storage array API call into one of a closed
// set of outcomes the callers act on. Vendor specific tokens and status codes
// never leak past this type.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the referenced object is absent on the array.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindDuplicateName indicates a creation collided with an existing object of the same name.
	ErrorKindDuplicateName ErrorKind = "duplicate_name"

	// ErrorKindAlreadyAttached indicates an attach collided with an existing mapping.
	ErrorKindAlreadyAttached ErrorKind = "already_attached"

	// ErrorKindArrayBusy indicates transient array overload. This is the only retryable kind.
	ErrorKindArrayBusy ErrorKind = "array_busy"

	// ErrorKindLimitExceeded indicates a hard array limit was hit.
	ErrorKindLimitExceeded ErrorKind = "limit_exceeded"

	// ErrorKindTransport indicates a connection level fault (DNS, TLS, timeout).
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindUnknown covers every response the classifier does not recognize.
	ErrorKindUnknown ErrorKind = "unknown"
)

// APIError is a classified error response from a storage array API.
// The raw vendor token and response body are preserved for diagnosis.
type APIError struct {
	Kind    ErrorKind
	Status  int    // HTTP status code, 0 for transport faults.
	Token   string // Vendor error token, verbatim as reported by the array.
	Message string
	cause   error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Kind == ErrorKindTransport {
		return fmt.Sprintf("Transport error: %s", e.Message)
	}

	msg := e.Token
	if msg == "" {
		msg = e.Message
	}

	return fmt.Sprintf("Array error (%s, status %d): %s", e.Kind, e.Status, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// IsErrorKind returns whether the error is an APIError of the given kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsNotFound returns whether the error indicates an absent object.
// Absence is an expected outcome on several call paths so it gets a dedicated
// check. Both classified array responses and absences synthesized on the
// client side (reported as api.StatusError) qualify.
func IsNotFound(err error) bool {
	return IsErrorKind(err, ErrorKindNotFound) || api.StatusErrorCheck(err, http.StatusNotFound)
}

// retryBusy runs call and retries it while the array reports itself busy,
// sleeping a fixed interval between attempts. Any other failure stops the
// loop and is surfaced immediately.
func retryBusy(call func() error, attempts uint, interval time.Duration) error {
	var terminal error

	err := retry.Retry(func(attempt uint) error {
		err := call()
		if err != nil && !IsErrorKind(err, ErrorKindArrayBusy) {
			// Returning nil stops the retry loop, the error is surfaced below.
			terminal = err
			return nil
		}

		return err
	}, strategy.Limit(attempts), strategy.Wait(interval))

	if terminal != nil {
		return terminal
	}

	return err
}
