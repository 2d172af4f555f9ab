package mailbox

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeMIME(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := ComposeMIME(Outgoing{
		From:    "me@example.com",
		To:      []string{"Bob <bob@example.com>", "carol@example.com"},
		Subject: "Quarterly numbers",
		Body:    "See attached.\nThanks",
	}, now)
	require.NoError(t, err)

	data, err := DecodeRaw(raw)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "bob@example.com", to[0].Address)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, now.Equal(date))

	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "See attached.\nThanks", string(body))
}

func TestComposeMIMERejectsBadInput(t *testing.T) {
	_, err := ComposeMIME(Outgoing{From: "me@example.com", Subject: "x"}, time.Now())
	assert.Error(t, err)

	_, err = ComposeMIME(Outgoing{From: "not an address", To: []string{"a@example.com"}}, time.Now())
	assert.Error(t, err)
}

func TestDecodeRawAcceptsUnpadded(t *testing.T) {
	got, err := DecodeRaw("aGk")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}
