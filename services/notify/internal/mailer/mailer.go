// Package mailer delivers rendered confirmation emails through one of the
// supported providers.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diagnosis/luxsuv-confirmations/pkg/config"
)

var (
	ErrNotConfigured  = errors.New("mailer not configured")
	ErrInvalidMessage = errors.New("invalid email message")
	ErrSendFailed     = errors.New("email send failed")
)

// Message is one outgoing email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidMessage)
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("%w: header contains a line break", ErrInvalidMessage)
	}
	return nil
}

// Sender submits a message and returns the provider's message id, which may
// be empty when the provider does not report one.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// New builds the sender selected by cfg.Provider.
func New(cfg config.EmailConfig) (Sender, error) {
	var (
		s   Sender
		err error
	)
	switch cfg.Provider {
	case config.ProviderSMTP:
		s, err = unwrap(NewSMTPMailer(cfg.SMTP, cfg.FromName))
	case config.ProviderMailerSend:
		s, err = unwrap(NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.FromEmail))
	case config.ProviderPostmark:
		s, err = unwrap(NewPostmark(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.FromName, cfg.FromEmail))
	case config.ProviderDev:
		s = NewDevMailer()
	default:
		err = fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// unwrap keeps a typed nil pointer from leaking out as a non-nil Sender.
func unwrap[T Sender](s T, err error) (Sender, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
