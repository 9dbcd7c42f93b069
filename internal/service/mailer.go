package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"
)

type MailMessage struct {
	To      string
	Subject string
	Body    string
	Tag     string
}

type MailPurpose string

const (
	MailEmailVerification  MailPurpose = "email-verification"
	MailPasswordReset      MailPurpose = "password-reset"
	MailSignup             MailPurpose = "signup"
	MailAccountAssociation MailPurpose = "account-association"
)

var mailSubjects = map[MailPurpose]string{
	MailEmailVerification:  "Verify your email address",
	MailPasswordReset:      "Reset your password",
	MailSignup:             "Finish creating your account",
	MailAccountAssociation: "Confirm linking your sign-in provider",
}

func codeMessage(purpose MailPurpose, to, code string) MailMessage {
	return MailMessage{
		To:      to,
		Subject: mailSubjects[purpose],
		Body:    fmt.Sprintf("Your verification code is %s. It expires in a few minutes. If you did not request it, ignore this message.", code),
		Tag:     string(purpose),
	}
}

// LogMailer only logs recipients. Used when no mail provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg MailMessage) error {
	m.logger.InfoContext(ctx, "mail suppressed, no provider configured", "tag", msg.Tag, "subject", msg.Subject)
	return nil
}

var ErrMailDelivery = errors.New("mail delivery failed")

type PostmarkMailer struct {
	client *postmark.Client
	from   string
}

func NewPostmarkMailer(client *postmark.Client, from string) *PostmarkMailer {
	return &PostmarkMailer{client: client, from: from}
}

func (m *PostmarkMailer) Send(ctx context.Context, msg MailMessage) error {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:     m.from,
		To:       msg.To,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Tag:      msg.Tag,
	})
	if err != nil {
		return errors.Join(ErrMailDelivery, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrMailDelivery, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
