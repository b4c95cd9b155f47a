package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

type PostmarkClient struct {
	client *postmark.Client
	from   string
}

func NewPostmark(serverToken, accountToken, fromName, fromEmail string) (*PostmarkClient, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", ErrNotConfigured)
	}
	if accountToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_ACCOUNT_TOKEN is required", ErrNotConfigured)
	}
	if fromEmail == "" {
		return nil, fmt.Errorf("%w: EMAIL_FROM is required", ErrNotConfigured)
	}
	return &PostmarkClient{
		client: postmark.NewClient(serverToken, accountToken),
		from:   (&mail.Address{Name: fromName, Address: fromEmail}).String(),
	}, nil
}

func (p *PostmarkClient) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.from,
		To:       (&mail.Address{Name: msg.ToName, Address: strings.TrimSpace(msg.To)}).String(),
		Subject:  msg.Subject,
		Tag:      "booking-confirmation",
		TextBody: msg.Text,
		HTMLBody: msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("%w: postmark: %w", ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("%w: postmark error: %d - %s", ErrSendFailed, resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}
