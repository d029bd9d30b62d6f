// File: internal/verifier/errors.go
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Codes carried in details.code of failure envelopes.
const (
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeMissingParameters  = "MISSING_PARAMETERS"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	// CodeBrowserError covers every browser and navigation failure. The wire
	// value is kept for existing callers.
	CodeBrowserError = "PUPPETEER_ERROR"
)

// ErrMethodNotAllowed is reported for any verb other than POST.
var ErrMethodNotAllowed = errors.New("method not allowed")

// ErrVerificationFailed means the login flow completed but the resulting
// page showed no sign of an authenticated session.
var ErrVerificationFailed = errors.New("no evidence of successful authentication")

// LoginControlNotFoundError is returned when the entry page has no visible
// link or button carrying a login keyword.
type LoginControlNotFoundError struct {
	Keywords []string
}

func (e *LoginControlNotFoundError) Error() string {
	return "ログインボタンが見つかりませんでした"
}

// LoginFormNotFoundError is returned when neither field-location strategy
// could find both credential inputs and a submit control.
type LoginFormNotFoundError struct {
	// Missing names the parts the fallback scan could not find.
	Missing []string
	// Primary is why the structural lookup gave up first.
	Primary error
}

func (e *LoginFormNotFoundError) Error() string {
	msg := "ログインフォームが見つかりませんでした"
	if len(e.Missing) > 0 {
		msg += " (" + strings.Join(e.Missing, ", ") + ")"
	}
	return msg
}

func (e *LoginFormNotFoundError) Unwrap() error { return e.Primary }

// InvalidIndicatorError is returned when an indicator expression does not
// compile as XPath or does not select elements.
type InvalidIndicatorError struct {
	Expr string
	Err  error
}

func (e *InvalidIndicatorError) Error() string {
	return fmt.Sprintf("invalid indicator expression %q: %v", e.Expr, e.Err)
}

func (e *InvalidIndicatorError) Unwrap() error { return e.Err }

// ClassifyError maps an error from any pipeline phase onto its wire code and
// a short type name for diagnostics.
func ClassifyError(err error) (code string, errorType string) {
	var (
		controlErr   *LoginControlNotFoundError
		formErr      *LoginFormNotFoundError
		indicatorErr *InvalidIndicatorError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrMethodNotAllowed):
		return CodeMethodNotAllowed, "MethodNotAllowedError"
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, "InvalidRequestError"
	case errors.Is(err, ErrMissingParameters):
		return CodeMissingParameters, "MissingParametersError"
	case errors.Is(err, ErrVerificationFailed):
		return CodeVerificationFailed, "VerificationFailedError"
	case errors.As(err, &controlErr):
		return CodeBrowserError, "LoginControlNotFoundError"
	case errors.As(err, &formErr):
		return CodeBrowserError, "LoginFormNotFoundError"
	case errors.As(err, &indicatorErr):
		return CodeBrowserError, "InvalidIndicatorError"
	case errors.Is(err, context.DeadlineExceeded):
		return CodeBrowserError, "TimeoutError"
	case errors.Is(err, context.Canceled):
		return CodeBrowserError, "CanceledError"
	default:
		return CodeBrowserError, "BrowserError"
	}
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackOf renders the innermost stack trace recorded on err, or "" when none
// was recorded.
func StackOf(err error) string {
	var found stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			found = st
		}
	}
	if found == nil {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%+v", found.StackTrace()), "\n")
}
