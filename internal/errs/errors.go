package errs

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind buckets every failure the pipeline can hit. Propagation rules
// differ per kind: transport errors retry forever, auth errors retry
// against a bounded budget, parse errors skip a single message,
// external-call errors leave the message unprocessed for the next
// batch, storage errors abort the operation in progress.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindAuth         Kind = "auth"
	KindParse        Kind = "parse"
	KindExternalCall Kind = "external_call"
	KindStorage      Kind = "storage"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return string(e.kind) + ": " + e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransport, err: err}
}

func Auth(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindAuth, err: err}
}

func Parse(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindParse, err: err}
}

func ExternalCall(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindExternalCall, err: err}
}

func Storage(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindStorage, err: err}
}

func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

func IsTransport(err error) bool {
	return KindOf(err) == KindTransport || isConnectionError(err)
}

func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func IsParse(err error) bool {
	return KindOf(err) == KindParse
}

func IsExternalCall(err error) bool {
	return KindOf(err) == KindExternalCall
}

func IsStorage(err error) bool {
	return KindOf(err) == KindStorage
}

// isConnectionError catches connectivity failures surfaced by the IMAP
// library as plain errors rather than typed ones.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "connection reset") ||
		strings.Contains(errorMsg, "connection refused")
}
