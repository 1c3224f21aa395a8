package imap

import (
	"context"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

const archiveFolder = "Archive"

// EnsureLabel creates the folder when it does not exist yet and returns
// its mailbox name.
func (t *imapTransport) EnsureLabel(ctx context.Context, name string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.EnsureLabel")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	span.SetTag("label", name)

	c, err := t.conn()
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	exists, err := t.folderExists(c, name)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if exists {
		return name, nil
	}

	if err := c.Create(name); err != nil {
		err = errs.Transport(errors.Wrapf(err, "failed to create folder %s", name))
		tracing.TraceErr(span, err)
		return "", err
	}
	t.log.Infof("[%s] created folder %s", t.account.ID, name)
	return name, nil
}

func (t *imapTransport) folderExists(c *client.Client, name string) (bool, error) {
	ch := make(chan *goimap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", name, ch)
	}()

	exists := false
	for info := range ch {
		if info.Name == name {
			exists = true
		}
	}
	if err := <-done; err != nil {
		return false, errs.Transport(errors.Wrap(err, "failed to list folders"))
	}
	return exists, nil
}

// ApplyLabel copies the message into the folder, leaving the inbox copy
// in place.
func (t *imapTransport) ApplyLabel(ctx context.Context, messageID, label string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.ApplyLabel")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	tracing.TagMessage(span, messageID)
	span.SetTag("label", label)

	return t.withInboxUID(ctx, messageID, func(c *client.Client, seqSet *goimap.SeqSet) error {
		if err := c.UidCopy(seqSet, label); err != nil {
			return errs.Transport(errors.Wrapf(err, "failed to copy message to %s", label))
		}
		return nil
	})
}

// RemoveFromInbox archives the message by moving it out of the inbox.
func (t *imapTransport) RemoveFromInbox(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.RemoveFromInbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	tracing.TagMessage(span, messageID)

	if _, err := t.EnsureLabel(ctx, archiveFolder); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return t.withInboxUID(ctx, messageID, func(c *client.Client, seqSet *goimap.SeqSet) error {
		if err := c.UidMove(seqSet, archiveFolder); err != nil {
			return errs.Transport(errors.Wrap(err, "failed to move message to archive"))
		}
		return nil
	})
}

func (t *imapTransport) MarkRead(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.MarkRead")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	tracing.TagMessage(span, messageID)

	return t.withInboxUID(ctx, messageID, func(c *client.Client, seqSet *goimap.SeqSet) error {
		flags := []interface{}{goimap.SeenFlag}
		op := goimap.FormatFlagsOp(goimap.AddFlags, true)
		if err := c.UidStore(seqSet, op, flags, nil); err != nil {
			return errs.Transport(errors.Wrap(err, "failed to mark message read"))
		}
		return nil
	})
}

// withInboxUID selects the inbox, resolves the message UID and runs op on
// it. Messages already moved out of the inbox are treated as done.
func (t *imapTransport) withInboxUID(ctx context.Context, messageID string, op func(*client.Client, *goimap.SeqSet) error) error {
	c, err := t.conn()
	if err != nil {
		return err
	}
	if err := t.selectInbox(c, false); err != nil {
		return err
	}

	uid, err := t.findUID(c, messageID)
	if err != nil {
		t.log.Warnf("[%s] message %s no longer in inbox, nothing to do", t.account.ID, messageID)
		return nil
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)
	return op(c, seqSet)
}
