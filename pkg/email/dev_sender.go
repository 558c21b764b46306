package email

import (
	"context"
	"log/slog"
)

// devSender implements Sender for local development by logging the email
// instead of delivering it.
type devSender struct {
	log *slog.Logger
}

// NewDevSender creates a sender that writes emails to the logger.
func NewDevSender(log *slog.Logger) Sender {
	return &devSender{log: log}
}

func (d *devSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	d.log.InfoContext(ctx, "dev email",
		slog.String("send_to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.Int("body_bytes", len(params.BodyHTML)),
	)
	return nil
}
