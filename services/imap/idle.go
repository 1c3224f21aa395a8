package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

const idlePollInterval = 2 * time.Minute

// WaitForNewMail blocks in IDLE until the server reports a mailbox change
// or the timeout elapses. Servers without IDLE support are covered by the
// client's built-in polling fallback. A timeout returns (false, nil).
func (t *imapTransport) WaitForNewMail(ctx context.Context, timeout time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.WaitForNewMail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	span.SetTag("timeout", timeout.String())

	c, err := t.conn()
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	if err := t.selectInbox(c, true); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}

	updates := make(chan client.Update, 16)
	c.Updates = updates
	defer func() { c.Updates = nil }()

	stop := make(chan struct{})
	var stopOnce sync.Once
	stopIdle := func() {
		stopOnce.Do(func() { close(stop) })
	}

	done := make(chan error, 1)
	go func() {
		c.Timeout = 0
		done <- c.Idle(stop, &client.IdleOptions{
			LogoutTimeout: timeout,
			PollInterval:  idlePollInterval,
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	newMail := false
	var idleErr error

waitLoop:
	for {
		select {
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				newMail = true
				span.LogKV("event", "mailbox update")
				stopIdle()
			}
		case <-timer.C:
			stopIdle()
		case <-ctx.Done():
			stopIdle()
			idleErr = ctx.Err()
		case err := <-done:
			if err != nil && idleErr == nil {
				idleErr = errs.Transport(errors.Wrap(err, "idle failed"))
			}
			break waitLoop
		}
	}

	// drain any update that raced the stop
	for {
		select {
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				newMail = true
			}
		default:
			if idleErr != nil {
				tracing.TraceErr(span, idleErr)
				return false, idleErr
			}
			span.SetTag("new_mail", newMail)
			return newMail, nil
		}
	}
}
