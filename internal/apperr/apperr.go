package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindExternalService
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindExternalService:
		return "external_service"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Unauthorized reason codes. Callers branch on these to decide between
// attempting a refresh and forcing a new login.
const (
	CodeMissingHeader      = "missing_header"
	CodeMalformedHeader    = "malformed_header"
	CodeMalformedToken     = "malformed_token"
	CodeInvalidSignature   = "invalid_signature"
	CodeTokenExpired       = "token_expired"
	CodeWrongTokenKind     = "wrong_token_kind"
	CodeSessionRevoked     = "session_revoked"
	CodeSessionExpired     = "session_expired"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthenticated    = "unauthenticated"
)

const (
	CodeForbidden             = "forbidden"
	CodeValidation            = "validation_failed"
	CodeExternalService       = "external_service_error"
	CodeFederationUnavailable = "federation_unavailable"
	CodeInvalidState          = "invalid_state"
	CodeNotFound              = "not_found"
	CodeConflict              = "conflict"
	CodeInternal              = "internal_error"
)

// Error is the single error shape crossing package boundaries. Kind selects the
// handling policy, Code is the stable machine-readable reason.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code so sentinel comparisons work
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Unauthorized(code, message string) *Error {
	return New(KindUnauthorized, code, message)
}

func Forbidden(message string, details map[string]string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message, Details: details}
}

func ExternalService(message string, err error) *Error {
	return Wrap(KindExternalService, CodeExternalService, message, err)
}

func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, CodeConflict, message)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, CodeInternal, message, err)
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, CodeInternal for foreign errors.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindExternalService:
		if e.Code == CodeFederationUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
