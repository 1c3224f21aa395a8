package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

const (
	dialTimeout  = 30 * time.Second
	loginTimeout = 30 * time.Second
	inboxFolder  = "INBOX"
)

// Connect dials the IMAP server and logs in. Dial failures come back as
// transport errors, rejected credentials as auth errors.
func (t *imapTransport) Connect(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapTransport.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.account.ID)
	span.SetTag("server", t.account.ImapServer)
	span.SetTag("port", t.account.ImapPort)
	span.SetTag("security", t.account.ImapSecurity.String())

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		if err := t.client.Noop(); err == nil {
			return nil
		}
		_ = t.client.Logout()
		t.client = nil
	}

	serverAddr := fmt.Sprintf("%s:%d", t.account.ImapServer, t.account.ImapPort)
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	switch t.account.ImapSecurity {
	case enum.MailSecurityTLS:
		tlsConfig := &tls.Config{ServerName: t.account.ImapServer}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	case enum.MailSecurityStartTLS:
		c, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil {
			err = c.StartTLS(&tls.Config{ServerName: t.account.ImapServer})
		}
	default:
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		err = errs.Transport(errors.Wrapf(err, "failed to connect to %s", serverAddr))
		tracing.TraceErr(span, err)
		return err
	}

	c.Timeout = loginTimeout
	if err := c.Login(t.account.ImapUsername, t.account.ImapPassword); err != nil {
		_ = c.Logout()
		err = errs.Auth(errors.Wrapf(err, "failed to login as %s", t.account.ImapUsername))
		tracing.TraceErr(span, err)
		return err
	}
	c.Timeout = 0

	t.log.Infof("[%s] connected and logged in to %s", t.account.ID, serverAddr)
	t.client = c
	return nil
}

func (t *imapTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	c := t.client
	t.client = nil

	c.Timeout = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.log.Warnf("[%s] logout timed out", t.account.ID)
		return nil
	}
}

// conn returns the live client, requiring a prior Connect.
func (t *imapTransport) conn() (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, errs.Transport(errors.New("not connected"))
	}
	return t.client, nil
}

func (t *imapTransport) selectInbox(c *client.Client, readOnly bool) error {
	if _, err := c.Select(inboxFolder, readOnly); err != nil {
		return errs.Transport(errors.Wrap(err, "failed to select inbox"))
	}
	return nil
}
