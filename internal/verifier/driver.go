// File: internal/verifier/driver.go
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"go.uber.org/zap"
)

// LoginState is how far the driver got through the login flow.
type LoginState int

const (
	AtEntryPage LoginState = iota
	LoginControlLocated
	AtLoginForm
	CredentialsSubmitted
	PostLoginSettled
)

func (s LoginState) String() string {
	switch s {
	case AtEntryPage:
		return "at_entry_page"
	case LoginControlLocated:
		return "login_control_located"
	case AtLoginForm:
		return "at_login_form"
	case CredentialsSubmitted:
		return "credentials_submitted"
	case PostLoginSettled:
		return "post_login_settled"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// Driver walks a page through the target site's login flow.
type Driver struct {
	target       config.TargetConfig
	navTimeout   time.Duration
	fieldTimeout time.Duration
	logger       *zap.Logger
}

// NewDriver creates a driver for the configured target site.
func NewDriver(target config.TargetConfig, v config.VerifierConfig, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		target:       target,
		navTimeout:   v.NavigationTimeout,
		fieldTimeout: v.FieldTimeout,
		logger:       logger.Named("driver"),
	}
}

// formFields is a located login form.
type formFields struct {
	account, password, submit session.Locator
}

// Login performs the flow and captures the page it ends on. The returned
// state is the last one reached, also on error.
func (d *Driver) Login(ctx context.Context, p session.Page, req VerificationRequest) (NavigationOutcome, LoginState, error) {
	log := d.logger.With(zap.String("session_id", p.ID()))
	state := AtEntryPage

	// 1. Entry page.
	navCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
	err := p.Navigate(navCtx, d.target.EntryURL)
	cancel()
	if err != nil {
		return NavigationOutcome{}, state, pkgerrors.WithStack(err)
	}

	// 2. Login control, matched by visible text.
	findCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	control, found, err := p.TagByText(findCtx, d.target.LoginControlSelector, d.target.LoginKeywords)
	cancel()
	if err != nil {
		return NavigationOutcome{}, state, pkgerrors.WithStack(err)
	}
	if !found {
		return NavigationOutcome{}, state, pkgerrors.WithStack(&LoginControlNotFoundError{Keywords: d.target.LoginKeywords})
	}
	state = LoginControlLocated
	log.Debug("Login control located", zap.Stringer("locator", control))

	// 3. Activate it and wait for the login form to load. This wait is fatal.
	if err := d.clickAndSettle(ctx, p, control); err != nil {
		return NavigationOutcome{}, state, pkgerrors.WithStack(err)
	}
	state = AtLoginForm

	// 4. Fill the form: structural paths first, selector scan second.
	fields, primaryErr := d.fillPrimary(ctx, p, req)
	if primaryErr != nil {
		if ctx.Err() != nil {
			return NavigationOutcome{}, state, pkgerrors.WithStack(primaryErr)
		}
		log.Info("Primary form strategy failed, scanning selectors", zap.Error(primaryErr))
		fields, err = d.fillFallback(ctx, p, req, primaryErr)
		if err != nil {
			return NavigationOutcome{}, state, err
		}
	}

	// 5. Submit. A settle timeout here is expected for in-page transitions.
	wait := p.ExpectNavigation()
	clickCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	err = p.Click(clickCtx, fields.submit)
	cancel()
	if err != nil {
		return NavigationOutcome{}, state, pkgerrors.WithStack(fmt.Errorf("failed to activate submit control: %w", err))
	}
	state = CredentialsSubmitted

	settleCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
	err = wait(settleCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return NavigationOutcome{}, state, pkgerrors.WithStack(err)
		}
		log.Info("No navigation after submit; classifying current page", zap.Duration("waited", d.navTimeout))
	}
	state = PostLoginSettled

	// 6. Capture. The page has settled, so this is an element-sized wait.
	snapCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	url, markup, err := p.Snapshot(snapCtx)
	cancel()
	if err != nil {
		return NavigationOutcome{}, state, pkgerrors.WithStack(err)
	}
	return NavigationOutcome{URL: url, Markup: markup}, state, nil
}

func (d *Driver) clickAndSettle(ctx context.Context, p session.Page, loc session.Locator) error {
	wait := p.ExpectNavigation()

	clickCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	err := p.Click(clickCtx, loc)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to activate login control: %w", err)
	}

	settleCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
	defer cancel()
	if err := wait(settleCtx); err != nil {
		return fmt.Errorf("login form did not load: %w", err)
	}
	return nil
}

// fillPrimary types the credentials into the fields found by structural
// path and locates the submit control the same way.
func (d *Driver) fillPrimary(ctx context.Context, p session.Page, req VerificationRequest) (formFields, error) {
	var f formFields

	account, found, err := Visible(session.XPath(d.target.AccountXPath), d.fieldTimeout)(ctx, p)
	if err != nil {
		return f, err
	}
	if !found {
		return f, errors.New("account field not visible at structural path")
	}
	if err := d.typeInto(ctx, p, account, req.Username); err != nil {
		return f, err
	}

	password, found, err := Visible(session.XPath(d.target.PasswordXPath), d.fieldTimeout)(ctx, p)
	if err != nil {
		return f, err
	}
	if !found {
		return f, errors.New("password field not visible at structural path")
	}
	if err := d.typeInto(ctx, p, password, req.Password); err != nil {
		return f, err
	}

	submit, found, err := Visible(session.XPath(d.target.SubmitXPath), d.fieldTimeout)(ctx, p)
	if err != nil {
		return f, err
	}
	if !found {
		return f, errors.New("submit control not visible at structural path")
	}
	return formFields{account: account, password: password, submit: submit}, nil
}

func (d *Driver) typeInto(ctx context.Context, p session.Page, loc session.Locator, value string) error {
	typeCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	defer cancel()
	return p.Type(typeCtx, loc, value)
}

// fillFallback scans the configured selectors, sets the values directly and
// returns the first submit control that matches.
func (d *Driver) fillFallback(ctx context.Context, p session.Page, req VerificationRequest, primaryErr error) (formFields, error) {
	scanCtx, cancel := context.WithTimeout(ctx, d.fieldTimeout)
	defer cancel()

	var (
		f       formFields
		missing []string
	)
	lookups := []struct {
		name      string
		selectors []string
		dst       *session.Locator
	}{
		{"account", d.target.AccountSelectors, &f.account},
		{"password", d.target.PasswordSelectors, &f.password},
		{"submit", d.target.SubmitSelectors, &f.submit},
	}
	for _, l := range lookups {
		loc, found, err := SelectorScan(l.selectors)(scanCtx, p)
		if err != nil {
			return f, pkgerrors.WithStack(err)
		}
		if !found {
			missing = append(missing, l.name)
			continue
		}
		*l.dst = loc
	}
	if len(missing) > 0 {
		return f, pkgerrors.WithStack(&LoginFormNotFoundError{Missing: missing, Primary: primaryErr})
	}

	if err := p.SetValue(scanCtx, f.account, req.Username); err != nil {
		return f, pkgerrors.WithStack(err)
	}
	if err := p.SetValue(scanCtx, f.password, req.Password); err != nil {
		return f, pkgerrors.WithStack(err)
	}
	return f, nil
}
