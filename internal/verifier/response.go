// File: internal/verifier/response.go
package verifier

import (
	"time"
)

// TimestampLayout is ISO 8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Values of details.status.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// LoginStatusLoggedIn is reported in details.loginStatus when the
// credentials were accepted.
const LoginStatusLoggedIn = "logged_in"

// Envelope is the response body for every outcome.
type Envelope struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Details Details `json:"details"`
}

// Details carries the status and any diagnostics for an Envelope.
type Details struct {
	Status       string `json:"status"`
	Code         string `json:"code,omitempty"`
	Timestamp    string `json:"timestamp"`
	URL          string `json:"url,omitempty"`
	FoundXPath   string `json:"foundXPath,omitempty"`
	LoginStatus  string `json:"loginStatus,omitempty"`
	Note         string `json:"note,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Stack        string `json:"stack,omitempty"`
	ErrorType    string `json:"errorType,omitempty"`
}

var messages = map[string]string{
	StatusSuccess:          "Airworkへのログインに成功しました",
	StatusPartial:          "Airworkへのログインに成功しました（指定された要素は見つかりませんでした）",
	CodeMethodNotAllowed:   "許可されていないメソッドです",
	CodeInvalidRequest:     "リクエストの形式が正しくありません",
	CodeMissingParameters:  "ユーザー名とパスワードは必須です",
	CodeVerificationFailed: "ログインを確認できませんでした",
	CodeBrowserError:       "ブラウザでの認証処理中にエラーが発生しました",
}

const partialNote = "ログアウト要素は見つかりませんでしたが、ログアウトに関するキーワードとリンクが検出されました"

// Builder turns verdicts and errors into envelopes.
type Builder struct {
	exposeStack bool
	now         func() time.Time
}

// NewBuilder creates a builder. Stack traces are included in browser error
// envelopes only when exposeStack is set.
func NewBuilder(exposeStack bool) *Builder {
	return &Builder{exposeStack: exposeStack, now: time.Now}
}

func (b *Builder) timestamp() string {
	return b.now().UTC().Format(TimestampLayout)
}

// Verdict builds the envelope for a classified page.
func (b *Builder) Verdict(v AuthVerdict, url string) Envelope {
	switch v.Kind {
	case Success:
		return Envelope{
			Success: true,
			Message: messages[StatusSuccess],
			Details: Details{
				Status:      StatusSuccess,
				Timestamp:   b.timestamp(),
				URL:         url,
				FoundXPath:  v.MatchedIndicator,
				LoginStatus: LoginStatusLoggedIn,
			},
		}
	case PartialSuccess:
		return Envelope{
			Success: true,
			Message: messages[StatusPartial],
			Details: Details{
				Status:      StatusPartial,
				Timestamp:   b.timestamp(),
				URL:         url,
				LoginStatus: LoginStatusLoggedIn,
				Note:        partialNote,
			},
		}
	default:
		env := b.Error(ErrVerificationFailed)
		env.Details.URL = url
		return env
	}
}

// Error builds the failure envelope for err.
func (b *Builder) Error(err error) Envelope {
	code, errorType := ClassifyError(err)
	if code == "" {
		code, errorType = CodeBrowserError, "BrowserError"
	}
	d := Details{
		Status:    StatusError,
		Code:      code,
		Timestamp: b.timestamp(),
	}
	if err != nil {
		d.ErrorMessage = err.Error()
	}
	if code == CodeBrowserError {
		d.ErrorType = errorType
		if b.exposeStack {
			d.Stack = StackOf(err)
		}
	}
	return Envelope{Success: false, Message: messages[code], Details: d}
}
