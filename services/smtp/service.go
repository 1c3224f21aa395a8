package smtp

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// SMTPClient sends plain-text replies on behalf of one account. IMAP
// credentials double as SMTP credentials.
type SMTPClient struct {
	account *models.Account
}

func NewSMTPClient(account *models.Account) *SMTPClient {
	return &SMTPClient{account: account}
}

func (s *SMTPClient) Send(ctx context.Context, to []string, subject, body, inReplyTo string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPClient.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	if len(to) == 0 {
		return errors.New("at least one recipient is required")
	}
	if s.account.SmtpServer == "" {
		return errors.Errorf("account %s has no SMTP server configured", s.account.ID)
	}

	buffer := s.buildMessage(to, subject, body, inReplyTo)

	addr := fmt.Sprintf("%s:%d", s.account.SmtpServer, s.account.SmtpPort)
	auth := smtp.PlainAuth("", s.account.ImapUsername, s.account.ImapPassword, s.account.SmtpServer)

	if err := smtp.SendMail(addr, auth, s.account.EmailAddress, to, buffer.Bytes()); err != nil {
		err = errs.Transport(errors.Wrap(err, "failed to send email"))
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (s *SMTPClient) buildMessage(to []string, subject, body, inReplyTo string) *bytes.Buffer {
	headers := map[string]string{
		"From":         s.account.EmailAddress,
		"To":           strings.Join(to, ", "),
		"Subject":      subject,
		"Date":         time.Now().UTC().Format(time.RFC1123Z),
		"Message-ID":   s.generateMessageID(),
		"MIME-Version": "1.0",
		"Content-Type": `text/plain; charset="UTF-8"`,
	}
	if inReplyTo != "" {
		headers["In-Reply-To"] = "<" + inReplyTo + ">"
		headers["References"] = "<" + inReplyTo + ">"
	}

	buffer := bytes.NewBuffer(nil)
	for _, key := range []string{"From", "To", "Subject", "Date", "Message-ID", "In-Reply-To", "References", "MIME-Version", "Content-Type"} {
		if value, ok := headers[key]; ok {
			buffer.WriteString(key + ": " + value + "\r\n")
		}
	}
	buffer.WriteString("\r\n")
	buffer.WriteString(body)
	buffer.WriteString("\r\n")
	return buffer
}

func (s *SMTPClient) generateMessageID() string {
	domain := s.account.EmailAddress
	if at := strings.LastIndex(domain, "@"); at >= 0 {
		domain = domain[at+1:]
	}
	return "<" + utils.GenerateNanoIDWithPrefix("reply", 24) + "@" + domain + ">"
}
