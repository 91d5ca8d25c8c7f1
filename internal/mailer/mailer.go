package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/skip2/go-qrcode"

	"ms-rsvp/internal/logger"
)

// MailerService is the outbound notification gateway. All sends are
// best-effort from the engine's point of view: callers log failures and
// move on, reservation state never depends on delivery.
type MailerService struct {
	Client    *mailersend.Mailersend
	FromEmail string
	FromName  string
	Logger    *logger.Logger
}

func NewMailerService(apiKey, fromName, fromEmail string, log *logger.Logger) *MailerService {
	return &MailerService{
		Client:    mailersend.NewMailersend(apiKey),
		FromEmail: fromEmail,
		FromName:  fromName,
		Logger:    log,
	}
}

// SendConfirmationEmail mails the requester their confirmation link,
// with a QR image of the same link attached for phone camera flows.
// This is the only place the confirmation token ever leaves the system.
func (m *MailerService) SendConfirmationEmail(email, name, eventTitle, confirmLink string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	message := m.Client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: m.FromName, Email: m.FromEmail})
	message.SetRecipients([]mailersend.Recipient{{Name: name, Email: email}})
	message.SetSubject(fmt.Sprintf("Confirm your spot at %s", eventTitle))
	message.SetHTML(fmt.Sprintf(
		`<p>Hi %s,</p>
<p>Your reservation for <strong>%s</strong> is almost done. Click the link below (or scan the attached QR code) to confirm your spot:</p>
<p><a href="%s">Confirm my reservation</a></p>
<p>If you don't confirm in time, your reservation will be released.</p>`,
		name, eventTitle, confirmLink))
	message.SetText(fmt.Sprintf(
		"Hi %s,\n\nConfirm your reservation for %s by opening this link:\n%s\n\nIf you don't confirm in time, your reservation will be released.\n",
		name, eventTitle, confirmLink))

	if qrPNG, err := qrcode.Encode(confirmLink, qrcode.Medium, 256); err == nil {
		message.AddAttachment(mailersend.Attachment{
			Content:  base64.StdEncoding.EncodeToString(qrPNG),
			Filename: "confirm-reservation.png",
		})
	} else if m.Logger != nil {
		m.Logger.Warn("MAIL", fmt.Sprintf("failed to generate QR attachment: %v", err))
	}

	res, err := m.Client.Email.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}
	if m.Logger != nil {
		m.Logger.LogMail("CONFIRMATION", email, "message id "+res.Header.Get("X-Message-Id"))
	}
	return nil
}

// SendCancellationEmail acknowledges a cancelled reservation.
func (m *MailerService) SendCancellationEmail(email, name, eventTitle string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	message := m.Client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: m.FromName, Email: m.FromEmail})
	message.SetRecipients([]mailersend.Recipient{{Name: name, Email: email}})
	message.SetSubject(fmt.Sprintf("Your reservation for %s was cancelled", eventTitle))
	message.SetHTML(fmt.Sprintf(
		`<p>Hi %s,</p><p>Your reservation for <strong>%s</strong> has been cancelled. If this wasn't you, you can reserve again at any time.</p>`,
		name, eventTitle))
	message.SetText(fmt.Sprintf(
		"Hi %s,\n\nYour reservation for %s has been cancelled. If this wasn't you, you can reserve again at any time.\n",
		name, eventTitle))

	res, err := m.Client.Email.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send cancellation email: %w", err)
	}
	if m.Logger != nil {
		m.Logger.LogMail("CANCELLATION", email, "message id "+res.Header.Get("X-Message-Id"))
	}
	return nil
}
