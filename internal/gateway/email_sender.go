// internal/gateway/email_sender.go
package gateway

import (
	"gopkg.in/gomail.v2"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
)

// EmailSender is the fallback channel for prospects that carry only an email
// identity. Failures are reported as transient provider errors so the normal
// retry policy applies; SMTP rejections of the address itself are rare enough
// that the bounded retry will surface them as terminal soon after.
type EmailSender struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (s *EmailSender) Send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	if err := d.DialAndSend(m); err != nil {
		return appErrors.NewProviderError(appErrors.CategoryTransient, 0, "smtp send error: "+err.Error())
	}
	return nil
}
