package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := Auth(errors.New("login rejected"))

	assert.Equal(t, KindAuth, KindOf(err))
	assert.True(t, IsAuth(err))
	assert.False(t, IsTransport(err))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := Transport(errors.New("dial tcp: connection reset"))
	wrapped := errors.Wrap(err, "listing messages")

	assert.True(t, IsTransport(wrapped))
	assert.Equal(t, KindTransport, KindOf(wrapped))
}

func TestConnectionStringFallback(t *testing.T) {
	// errors coming straight out of the IMAP library carry no kind
	err := errors.New("imap: connection closed")

	assert.True(t, IsTransport(err))
	assert.Equal(t, Kind(""), KindOf(err))
}

func TestNilIsNotAnyKind(t *testing.T) {
	assert.Nil(t, Transport(nil))
	assert.False(t, IsTransport(nil))
	assert.False(t, IsAuth(nil))
}
