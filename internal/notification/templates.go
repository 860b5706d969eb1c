package notification

import (
	"bytes"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Message kinds
const (
	KindVerification     = "email_verification"
	KindPasswordReset    = "password_reset"
	KindSpendingWarning  = "spending_warning"
	KindSpendingExceeded = "spending_exceeded"
)

// Subjects
const (
	SubjectVerification     = "Confirm your email"
	SubjectPasswordReset    = "Password reset"
	SubjectSpendingWarning  = "Spending Limit Warning"
	SubjectSpendingExceeded = "Spending Limit Exceeded!"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "email_verification"}}
Hello {{.Username}},

Please confirm your email address by following the link below:

{{.Link}}

The link is valid for {{.Validity}}.

Best regards,
Your Finance App
{{end}}
{{define "password_reset"}}
Hello {{.Username}},

We received a request to reset your password. Follow the link below to choose a new one:

{{.Link}}

The link is valid for {{.Validity}}. If you did not request a reset, ignore this message.

Best regards,
Your Finance App
{{end}}
{{define "spending_warning"}}
Hello {{.Username}},

You have reached {{.Threshold}}% of your monthly spending limit.

Current spending: {{.Current}} UAH
Monthly limit: {{.Limit}} UAH
Remaining: {{.Difference}} UAH

Please monitor your expenses carefully.

Best regards,
Your Finance App
{{end}}
{{define "spending_exceeded"}}
Hello {{.Username}},

WARNING: You have exceeded your monthly spending limit!

Current spending: {{.Current}} UAH
Monthly limit: {{.Limit}} UAH
Overspent by: {{.Difference}} UAH

Please review your expenses and consider adjusting your budget.

Best regards,
Your Finance App
{{end}}
`))

type linkData struct {
	Username string
	Link     string
	Validity string
}

type spendingData struct {
	Username   string
	Threshold  string
	Current    string
	Limit      string
	Difference string
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "Failed to render template", err.Error())
	}
	return buf.String(), nil
}

func newMessage(kind, to, subject, body string) *Message {
	return &Message{
		ID:      utils.NewMessageID(""),
		Kind:    kind,
		To:      []string{to},
		Subject: subject,
		Body:    body,
	}
}

// VerificationEmail builds the address confirmation mail
func VerificationEmail(username, to, link, validity string) (*Message, error) {
	body, err := render(KindVerification, linkData{Username: username, Link: link, Validity: validity})
	if err != nil {
		return nil, err
	}
	return newMessage(KindVerification, to, SubjectVerification, body), nil
}

// PasswordResetEmail builds the password reset mail
func PasswordResetEmail(username, to, link, validity string) (*Message, error) {
	body, err := render(KindPasswordReset, linkData{Username: username, Link: link, Validity: validity})
	if err != nil {
		return nil, err
	}
	return newMessage(KindPasswordReset, to, SubjectPasswordReset, body), nil
}

// SpendingWarningEmail builds the threshold warning mail
func SpendingWarningEmail(username, to string, current, limit, threshold decimal.Decimal) (*Message, error) {
	body, err := render(KindSpendingWarning, spendingData{
		Username:   username,
		Threshold:  threshold.String(),
		Current:    current.StringFixed(2),
		Limit:      limit.StringFixed(2),
		Difference: limit.Sub(current).StringFixed(2),
	})
	if err != nil {
		return nil, err
	}
	return newMessage(KindSpendingWarning, to, SubjectSpendingWarning, body), nil
}

// SpendingExceededEmail builds the limit exceeded mail
func SpendingExceededEmail(username, to string, current, limit decimal.Decimal) (*Message, error) {
	body, err := render(KindSpendingExceeded, spendingData{
		Username:   username,
		Current:    current.StringFixed(2),
		Limit:      limit.StringFixed(2),
		Difference: current.Sub(limit).StringFixed(2),
	})
	if err != nil {
		return nil, err
	}
	return newMessage(KindSpendingExceeded, to, SubjectSpendingExceeded, body), nil
}
