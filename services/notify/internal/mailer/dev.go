package mailer

import (
	"context"

	"github.com/google/uuid"

	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
)

// DevMailer logs messages instead of delivering them.
type DevMailer struct{}

func NewDevMailer() *DevMailer { return &DevMailer{} }

func (DevMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	id := "dev-" + uuid.NewString()
	logger.InfoContext(ctx, "dev mailer: email not delivered",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", id,
		"text", msg.Text,
	)
	return id, nil
}
