package errors

import (
	"fmt"
	"net/http"
)

type Error struct {
	Code    int
	Headers http.Header
	cause   error
}

func New(code int, headers http.Header) *Error {
	return &Error{
		Code:    code,
		Headers: headers,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: code = %d headers = %v cause = %v", e.Code, e.Headers, e.cause)
}

func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) Unwrap() error {
	return e.cause
}

// errorCodeHeader carries the error-class code on responses built by the
// constructors below, one per class the mirror surfaces to clients. The
// server and server/middleware/mirror handlers write these; an error that
// is not an *Error reaches the client as ProxyInvalidData.
const errorCodeHeader = "X-Error-Code"

func withCode(status int, code string) *Error {
	return New(status, http.Header{errorCodeHeader: []string{code}})
}

// NotAdmitted: proxy.allow denied the repository outright.
func NotAdmitted() *Error { return withCode(http.StatusUnauthorized, "RepoNotFound") }

// UnknownType: the {type} path segment isn't models/datasets/spaces.
func UnknownType() *Error { return withCode(http.StatusNotFound, "PageNotFound") }

// UnknownRepo: upstream didn't confirm the repository exists.
func UnknownRepo() *Error { return withCode(http.StatusUnauthorized, "RepoNotFound") }

// UnknownRevision: repo exists, ref does not.
func UnknownRevision() *Error { return withCode(http.StatusNotFound, "RevisionNotFound") }

// EntryNotFound: file missing on a known branch.
func EntryNotFound() *Error { return withCode(http.StatusNotFound, "EntryNotFound") }

// ProxyTimeout: upstream timeout or connection failure.
func ProxyTimeout() *Error { return withCode(http.StatusGatewayTimeout, "ProxyTimeout") }

// ProxyInvalidData: upstream body wasn't parseable as expected.
func ProxyInvalidData() *Error { return withCode(http.StatusGatewayTimeout, "ProxyInvalidData") }

// Capacity: the cache container cannot hold the requested file_size.
func Capacity() *Error { return withCode(http.StatusGatewayTimeout, "CapacityExceeded") }

// ShortRead: a remote run yielded fewer bytes than the run's length.
func ShortRead() *Error { return withCode(http.StatusBadGateway, "ShortRead") }

// CacheCorrupt: a cached run's bytes didn't cover the run's length.
func CacheCorrupt() *Error { return withCode(http.StatusInternalServerError, "CacheCorrupt") }

// Forbidden: upstream 403, propagated without caching.
func Forbidden() *Error { return New(http.StatusForbidden, nil) }
