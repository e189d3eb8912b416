package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"kisanmandi/pkg/config"
	"kisanmandi/pkg/profiles"
)

type EmailSender interface {
	SendEmail(subject, toEmail, plainTextContent, htmlContent string) error
}

type sendgridSender struct {
	client      *sendgrid.Client
	senderEmail string
	senderName  string
}

func NewSendGridSender(cfg config.SendGridConfig) EmailSender {
	return &sendgridSender{
		client:      sendgrid.NewSendClient(cfg.APIKey),
		senderEmail: cfg.SenderEmail,
		senderName:  cfg.SenderName,
	}
}

func (e *sendgridSender) SendEmail(subject, toEmail, plainTextContent, htmlContent string) error {
	from := mail.NewEmail(e.senderName, e.senderEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainTextContent, htmlContent)
	response, err := e.client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return errors.New("failed to send email")
	}
	return nil
}

// EmailNotifier mails the notification to the address on the user's profile.
// Users without an email are skipped.
type EmailNotifier struct {
	sender   EmailSender
	profiles profiles.Directory
}

func NewEmailNotifier(sender EmailSender, dir profiles.Directory) *EmailNotifier {
	return &EmailNotifier{sender: sender, profiles: dir}
}

func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	p, err := e.profiles.GetProfile(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("email notification: %w", err)
	}
	if p.Email == "" {
		return nil
	}

	htmlBody := fmt.Sprintf("<p>%s</p><p>%s</p>", html.EscapeString(n.Title), html.EscapeString(n.Body))
	if err := e.sender.SendEmail(n.Title, p.Email, n.Body, htmlBody); err != nil {
		return fmt.Errorf("email notification to %s: %w", n.UserID, err)
	}
	return nil
}
