// Package exterr defines the failure taxonomy shared by every stage of the
// extension pipeline and its mapping onto the RPC wire.
package exterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class.
type Kind string

const (
	KindBundleFormat     Kind = "BundleFormatError"
	KindVersionRange     Kind = "VersionRangeError"
	KindClassLoad        Kind = "ClassLoadError"
	KindMethodResolution Kind = "MethodResolutionError"
	KindMarshal          Kind = "MarshalError"
	KindUpstreamHTTP     Kind = "UpstreamHttpError"
	KindUnknown          Kind = "UnknownError"
)

// GenericCode is reported for every failure that carries no upstream status.
const GenericCode = http.StatusInternalServerError

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status, set only for KindUpstreamHTTP.
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can compare against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Code returns the numeric code reported in the wire error body.
func (e *Error) Code() int {
	if e.Kind == KindUpstreamHTTP && e.Status > 0 {
		return e.Status
	}
	return GenericCode
}

// Sentinels for errors.Is checks.
var (
	ErrBundleFormat     = &Error{Kind: KindBundleFormat}
	ErrVersionRange     = &Error{Kind: KindVersionRange}
	ErrClassLoad        = &Error{Kind: KindClassLoad}
	ErrMethodResolution = &Error{Kind: KindMethodResolution}
	ErrMarshal          = &Error{Kind: KindMarshal}
	ErrUpstreamHTTP     = &Error{Kind: KindUpstreamHTTP}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

func newf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// BundleFormat reports a malformed or non-extension bundle.
func BundleFormat(format string, args ...interface{}) *Error {
	return newf(KindBundleFormat, nil, format, args...)
}

// BundleFormatWrap is BundleFormat with an underlying cause.
func BundleFormatWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindBundleFormat, cause, format, args...)
}

// VersionRange reports a declared library version outside the supported range.
func VersionRange(format string, args ...interface{}) *Error {
	return newf(KindVersionRange, nil, format, args...)
}

// ClassLoad reports an entry type that could not be found or instantiated.
func ClassLoad(cause error, format string, args ...interface{}) *Error {
	return newf(KindClassLoad, cause, format, args...)
}

// MethodResolution reports a method name outside the capability surface.
func MethodResolution(format string, args ...interface{}) *Error {
	return newf(KindMethodResolution, nil, format, args...)
}

// Marshal reports an argument or result that does not fit its declared shape.
func Marshal(cause error, format string, args ...interface{}) *Error {
	return newf(KindMarshal, cause, format, args...)
}

// Upstream reports a non-success HTTP status observed by the extension.
func Upstream(status int) *Error {
	return &Error{Kind: KindUpstreamHTTP, Status: status, Message: fmt.Sprintf("HTTP error %d", status)}
}

// Unknown wraps any other failure.
func Unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, Err: cause}
}

// Unknownf builds an UnknownError from a message.
func Unknownf(format string, args ...interface{}) *Error {
	return newf(KindUnknown, nil, format, args...)
}

// Classify returns err as a taxonomy member, wrapping foreign errors as
// UnknownError. It returns nil for a nil error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unknown(err)
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a wire code onto the transport status. Only 400, 401, 403
// and 404 pass through; 429 and everything else collapse to 500.
func HTTPStatus(code int) int {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return code
	default:
		return http.StatusInternalServerError
	}
}
