package imap

import (
	"context"
	"io"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/services/smtp"
)

// imapTransport is one connection to one account's mailbox. It is not
// safe for concurrent IMAP commands; callers serialize access the way
// watchers do.
type imapTransport struct {
	log     logger.Logger
	account *models.Account
	sender  *smtp.SMTPClient

	mu     sync.Mutex
	client *client.Client
}

// NewTransportFactory builds IMAP-backed transports. Outbound mail rides
// on the account's SMTP settings.
func NewTransportFactory(log logger.Logger) interfaces.TransportFactory {
	return func(account *models.Account) interfaces.MailTransport {
		return &imapTransport{
			log:     log,
			account: account,
			sender:  smtp.NewSMTPClient(account),
		}
	}
}

// ListSince returns every inbox message the server reports at or after
// the given time. IMAP SINCE has date granularity, so callers get a
// superset and must re-filter on the parsed timestamps.
func (t *imapTransport) ListSince(ctx context.Context, since time.Time) ([]interfaces.RawMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.ListSince")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	span.SetTag("since", since.Format(time.RFC3339))

	c, err := t.conn()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := t.selectInbox(c, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		err = errs.Transport(errors.Wrap(err, "uid search failed"))
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("matches", len(uids))
	if len(uids) == 0 {
		return nil, nil
	}

	messages, err := t.fetchByUIDs(c, uids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return messages, nil
}

// Fetch retrieves one message by its Message-Id header.
func (t *imapTransport) Fetch(ctx context.Context, messageID string) (*interfaces.RawMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.Fetch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	tracing.TagMessage(span, messageID)

	c, err := t.conn()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := t.selectInbox(c, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	uid, err := t.findUID(c, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	messages, err := t.fetchByUIDs(c, []uint32{uid})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if len(messages) == 0 {
		err = errs.Transport(errors.Errorf("message %s vanished during fetch", messageID))
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &messages[0], nil
}

func (t *imapTransport) fetchByUIDs(c *client.Client, uids []uint32) ([]interfaces.RawMessage, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	ch := make(chan *goimap.Message, len(uids))
	if err := c.UidFetch(seqSet, items, ch); err != nil {
		return nil, errs.Transport(errors.Wrap(err, "uid fetch failed"))
	}

	var result []interfaces.RawMessage
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			t.log.Warnf("[%s] uid %d has no body section, skipping", t.account.ID, msg.Uid)
			continue
		}
		source, err := io.ReadAll(body)
		if err != nil {
			return nil, errs.Transport(errors.Wrapf(err, "failed to read body of uid %d", msg.Uid))
		}
		result = append(result, interfaces.RawMessage{UID: msg.Uid, Source: source})
	}
	return result, nil
}

// findUID resolves a Message-Id header to the message's UID in the
// currently selected folder.
func (t *imapTransport) findUID(c *client.Client, messageID string) (uint32, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", "<"+messageID+">")

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, errs.Transport(errors.Wrap(err, "uid search by message id failed"))
	}
	if len(uids) == 0 {
		// some servers index the header without brackets
		criteria = goimap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", messageID)
		uids, err = c.UidSearch(criteria)
		if err != nil {
			return 0, errs.Transport(errors.Wrap(err, "uid search by message id failed"))
		}
	}
	if len(uids) == 0 {
		return 0, errs.Transport(errors.Errorf("message %s not found in mailbox", messageID))
	}
	return uids[len(uids)-1], nil
}

func (t *imapTransport) Send(ctx context.Context, to []string, subject, body, inReplyTo string) error {
	return t.sender.Send(ctx, to, subject, body, inReplyTo)
}
