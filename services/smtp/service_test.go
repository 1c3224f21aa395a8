package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/internal/models"
)

func testClient() *SMTPClient {
	return NewSMTPClient(&models.Account{
		ID:           "acct_1",
		EmailAddress: "agent@corp.com",
		SmtpServer:   "smtp.corp.com",
		SmtpPort:     587,
	})
}

func TestBuildMessage_ReplyHeaders(t *testing.T) {
	buffer := testClient().buildMessage([]string{"a@x.com", "b@y.com"}, "Re: plan", "see attached", "orig-id@x.com")
	raw := buffer.String()

	headerBlock := strings.SplitN(raw, "\r\n\r\n", 2)[0]
	require.Contains(t, headerBlock, "From: agent@corp.com")
	require.Contains(t, headerBlock, "To: a@x.com, b@y.com")
	require.Contains(t, headerBlock, "Subject: Re: plan")
	require.Contains(t, headerBlock, "In-Reply-To: <orig-id@x.com>")
	require.Contains(t, headerBlock, "References: <orig-id@x.com>")
	require.Contains(t, raw, "\r\n\r\nsee attached\r\n")
}

func TestBuildMessage_NoReplyHeadersWhenNotAReply(t *testing.T) {
	buffer := testClient().buildMessage([]string{"a@x.com"}, "hello", "hi", "")
	raw := buffer.String()

	require.NotContains(t, raw, "In-Reply-To")
	require.NotContains(t, raw, "References")
}

func TestGenerateMessageID_UsesAccountDomain(t *testing.T) {
	id := testClient().generateMessageID()

	require.True(t, strings.HasPrefix(id, "<reply_"))
	require.True(t, strings.HasSuffix(id, "@corp.com>"))
}
