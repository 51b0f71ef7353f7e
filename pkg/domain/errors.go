package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound     = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired      = NewErr("PASTE_EXPIRED", "paste has expired", http.StatusGone)
	ErrForbidden         = NewErr("FORBIDDEN", "invalid secret token", http.StatusForbidden)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrContentRequired   = NewErr("CONTENT_REQUIRED", "content is required", http.StatusBadRequest)
	ErrTokenRequired     = NewErr("TOKEN_REQUIRED", "secret token is required", http.StatusBadRequest)
	ErrInvalidPrivacy    = NewErr("INVALID_PRIVACY", "privacy must be one of public, unlisted, private", http.StatusBadRequest)
	ErrInvalidExpiration = NewErr("INVALID_EXPIRATION", "expiration must be one of 1h, 1d, 1w, never", http.StatusBadRequest)
	ErrPasteTooLarge     = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "too many requests, please try again later", http.StatusTooManyRequests)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrSlugConflict      = NewErr("SLUG_CONFLICT", "could not allocate a unique slug", http.StatusInternalServerError)
	ErrUnavailable       = NewErr("SERVICE_UNAVAILABLE", "service shutting down", http.StatusServiceUnavailable)
)

// ErrSlugTaken is returned by backends when an insert hits the slug uniqueness constraint.
var ErrSlugTaken = errors.New("slug already taken")

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

// Is matches on Code so errors built by Invalid compare equal to ErrInvalidRequest.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Invalid builds a validation error carrying the caller-facing reason.
func Invalid(reason string) *Err {
	return &Err{Code: ErrInvalidRequest.Code, Msg: reason, Status: ErrInvalidRequest.Status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}

func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

func asErr(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
