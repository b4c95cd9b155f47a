package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/luxsuv-confirmations/pkg/config"
)

// implicitTLSPort is the submission port that expects TLS from the first byte.
const implicitTLSPort = 465

type SMTPMailer struct {
	Host     string
	Port     int
	From     string
	FromName string
	User     string
	Pass     string
	// ImplicitTLS dials with TLS instead of upgrading with STARTTLS.
	ImplicitTLS bool

	now func() time.Time
}

func NewSMTPMailer(cfg config.SMTPConfig, fromName string) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	return &SMTPMailer{
		Host:        strings.TrimSpace(cfg.Host),
		Port:        cfg.Port,
		From:        cfg.Sender(),
		FromName:    strings.TrimSpace(fromName),
		User:        strings.TrimSpace(cfg.User),
		Pass:        cfg.Pass,
		ImplicitTLS: cfg.Port == implicitTLSPort,
		now:         time.Now,
	}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	to := strings.TrimSpace(msg.To)

	messageID := newMessageID(s.From)
	raw, err := buildMessage(s.From, s.FromName, msg, messageID, s.now())
	if err != nil {
		return "", fmt.Errorf("%w: build message: %w", ErrSendFailed, err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s:%d: %w", ErrSendFailed, s.Host, s.Port, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return "", fmt.Errorf("%w: greeting: %w", ErrSendFailed, err)
	}
	defer c.Close()

	if !s.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return "", fmt.Errorf("%w: starttls: %w", ErrSendFailed, err)
			}
		}
	}
	if s.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.User, s.Pass, s.Host)); err != nil {
				return "", fmt.Errorf("%w: auth: %w", ErrSendFailed, err)
			}
		}
	}

	if err := c.Mail(s.From); err != nil {
		return "", fmt.Errorf("%w: mail from: %w", ErrSendFailed, err)
	}
	if err := c.Rcpt(to); err != nil {
		return "", fmt.Errorf("%w: rcpt to: %w", ErrSendFailed, err)
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("%w: data: %w", ErrSendFailed, err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("%w: write body: %w", ErrSendFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: data: %w", ErrSendFailed, err)
	}
	// The message is accepted once DATA completes; a failed QUIT does not undo it.
	_ = c.Quit()

	return messageID, nil
}

func (s *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	d := &net.Dialer{}
	if s.ImplicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}}
		return td.DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

func newMessageID(from string) string {
	host := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		host = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}

// buildMessage renders a multipart/alternative message with a plain text
// and an HTML part, both quoted-printable.
func buildMessage(from, fromName string, msg Message, messageID string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	sender := (&mail.Address{Name: fromName, Address: from}).String()
	recipient := (&mail.Address{Name: msg.ToName, Address: strings.TrimSpace(msg.To)}).String()

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "From: %s\r\n", sender)
	fmt.Fprintf(&hdr, "To: %s\r\n", recipient)
	fmt.Fprintf(&hdr, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&hdr, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&hdr, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&hdr, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&hdr, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append(hdr.Bytes(), buf.Bytes()...), nil
}
