// File: internal/verifier/request.go
package verifier

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	json "github.com/json-iterator/go"
)

var (
	// ErrInvalidRequest means the body is not a JSON object of the expected shape.
	ErrInvalidRequest = errors.New("invalid request body")
	// ErrMissingParameters means username or password is absent or blank.
	ErrMissingParameters = errors.New("missing required parameters")
)

// VerificationRequest is one set of credentials to try against the target
// site, plus the expression whose presence proves the login worked.
type VerificationRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	// Indicator is sent as "xpath" on the wire.
	Indicator string `json:"xpath"`
}

type requestValidator struct {
	validate *validator.Validate
	trans    ut.Translator
}

var (
	validatorOnce sync.Once
	reqValidator  *requestValidator
)

func getValidator() *requestValidator {
	validatorOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		// Report wire names, not Go field names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		reqValidator = &requestValidator{validate: v, trans: trans}
	})
	return reqValidator
}

// ParseRequest decodes and validates a raw request body. A blank indicator
// is replaced by defaultIndicator. Surrounding whitespace is stripped from
// the username and the indicator; the password is only checked for being
// non-blank and is passed through untouched.
func ParseRequest(body []byte, defaultIndicator string) (VerificationRequest, error) {
	var req VerificationRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	// The decoder's message quotes the input, which may hold the password.
	if err := json.Unmarshal(body, &req); err != nil {
		return VerificationRequest{}, fmt.Errorf("%w: body is not a JSON object with string fields", ErrInvalidRequest)
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Indicator = strings.TrimSpace(req.Indicator)

	// Validation runs on the trimmed view so a whitespace-only password is rejected.
	check := req
	check.Password = strings.TrimSpace(req.Password)
	if err := getValidator().validate.Struct(check); err != nil {
		return VerificationRequest{}, fmt.Errorf("%w: %s", ErrMissingParameters, describeValidation(err))
	}

	if req.Indicator == "" {
		req.Indicator = defaultIndicator
	}
	return req, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(getValidator().trans))
	}
	return strings.Join(msgs, "; ")
}
