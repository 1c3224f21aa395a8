package parser

import (
	"bytes"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/utils"
)

type messageParser struct{}

func NewMessageParser() interfaces.MessageParser {
	return &messageParser{}
}

// Parse decodes a raw RFC822 message into the normalized record. A
// message without a Message-Id header is rejected; everything downstream
// keys on it.
func (p *messageParser) Parse(raw []byte) (*models.Message, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Parse(errors.Wrap(err, "failed to read envelope"))
	}

	messageID := utils.NormalizeMessageID(envelope.GetHeader("Message-Id"))
	if messageID == "" {
		return nil, errs.Parse(errors.New("message has no Message-Id header"))
	}

	message := &models.Message{
		MessageID: messageID,
		Subject:   envelope.GetHeader("Subject"),
		InReplyTo: utils.NormalizeMessageID(envelope.GetHeader("In-Reply-To")),
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		message.FromName = from[0].Name
		message.FromAddress = strings.ToLower(from[0].Address)
	}
	if replyTo, err := envelope.AddressList("Reply-To"); err == nil && len(replyTo) > 0 {
		message.ReplyTo = strings.ToLower(replyTo[0].Address)
	}
	if to, err := envelope.AddressList("To"); err == nil {
		for _, addr := range to {
			message.ToAddresses = append(message.ToAddresses, strings.ToLower(addr.Address))
		}
	}

	if date := envelope.GetHeader("Date"); date != "" {
		if receivedAt, err := mail.ParseDate(date); err == nil {
			receivedAt = receivedAt.UTC()
			message.ReceivedAt = &receivedAt
		}
	}

	message.Body = strings.TrimSpace(envelope.Text)
	if message.Body == "" && envelope.HTML != "" {
		message.Body = extractTextFromHTML(envelope.HTML)
	}

	return message, nil
}

// extractTextFromHTML is the fallback for HTML-only messages.
func extractTextFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script,style").Remove()

	text := doc.Text()

	// collapse runs of whitespace left behind by block elements
	var builder strings.Builder
	lastBlank := true
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if !lastBlank {
				builder.WriteString("\n")
			}
			lastBlank = true
			continue
		}
		builder.WriteString(line)
		builder.WriteString("\n")
		lastBlank = false
	}
	return strings.TrimSpace(builder.String())
}
