package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/internal/errs"
)

func TestParse_PlainText(t *testing.T) {
	raw := []byte("Message-Id: <abc-123@example.com>\r\n" +
		"From: Jane Doe <Jane@Example.com>\r\n" +
		"Reply-To: <replies@example.com>\r\n" +
		"To: inbox@mailagent.io\r\n" +
		"Subject: Quarterly report\r\n" +
		"Date: Mon, 02 Jun 2025 10:30:00 +0200\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello,\r\nplease find the report attached.\r\n")

	message, err := NewMessageParser().Parse(raw)

	require.NoError(t, err)
	require.Equal(t, "abc-123@example.com", message.MessageID)
	require.Equal(t, "Quarterly report", message.Subject)
	require.Equal(t, "jane@example.com", message.FromAddress)
	require.Equal(t, "Jane Doe", message.FromName)
	require.Equal(t, "replies@example.com", message.ReplyTo)
	require.Equal(t, []string{"inbox@mailagent.io"}, []string(message.ToAddresses))
	require.NotNil(t, message.ReceivedAt)
	require.Equal(t, "2025-06-02T08:30:00Z", message.ReceivedAt.Format("2006-01-02T15:04:05Z"))
	require.Contains(t, message.Body, "please find the report attached.")
}

func TestParse_HtmlOnlyFallsBackToExtractedText(t *testing.T) {
	raw := []byte("Message-Id: <html-only@example.com>\r\n" +
		"From: noreply@example.com\r\n" +
		"Subject: Promo\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head>" +
		"<body><p>Big sale</p><p>Today only</p><script>track()</script></body></html>\r\n")

	message, err := NewMessageParser().Parse(raw)

	require.NoError(t, err)
	require.Contains(t, message.Body, "Big sale")
	require.Contains(t, message.Body, "Today only")
	require.NotContains(t, message.Body, "track()")
	require.NotContains(t, message.Body, "color:red")
}

func TestParse_MissingMessageIdRejected(t *testing.T) {
	raw := []byte("From: someone@example.com\r\n" +
		"Subject: no id\r\n" +
		"\r\n" +
		"body\r\n")

	_, err := NewMessageParser().Parse(raw)

	require.Error(t, err)
	require.Equal(t, errs.KindParse, errs.KindOf(err))
}
