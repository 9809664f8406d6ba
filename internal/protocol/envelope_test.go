package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsProduceValidEnvelopes(t *testing.T) {
	for label, env := range sampleEnvelopes() {
		assert.NoError(t, env.Validate(), label)
		assert.NotEmpty(t, env.ID, label)
		assert.False(t, env.Timestamp.IsZero(), label)
	}
}

func TestNewBinaryFillsMetadata(t *testing.T) {
	env := NewBinary("bob", []byte{1, 2, 3, 4, 5}, "test.bin")
	require.NotNil(t, env.Metadata)
	assert.Equal(t, "test.bin", env.FileName())
	assert.EqualValues(t, 5, env.Metadata.Size)
	assert.Empty(t, env.Text)
}

func TestNotificationHasNoSender(t *testing.T) {
	env := NewNotification("maintenance at noon")
	assert.Empty(t, env.Sender)
	assert.Equal(t, KindNotification, env.Kind)
}

func TestPongCarriesPingID(t *testing.T) {
	ping := NewPing()
	pong := NewPong(ping.ID)
	assert.Equal(t, ping.ID, pong.ReplyTo())
	assert.NotEqual(t, ping.ID, pong.ID)
}

func TestWithSenderCopies(t *testing.T) {
	orig := NewBinary("mallory", []byte("x"), "a.txt")
	stamped := orig.WithSender("alice")
	assert.Equal(t, "alice", stamped.Sender)
	assert.Equal(t, "mallory", orig.Sender)
	stamped.Metadata.FileName = "b.txt"
	assert.Equal(t, "a.txt", orig.FileName())
}

func TestKindText(t *testing.T) {
	for k, name := range kindNames {
		b, err := k.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(b))

		var back Kind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	_, err := KindUnknown.MarshalText()
	assert.Error(t, err)

	k, ok := ParseKind("pong")
	assert.True(t, ok)
	assert.Equal(t, KindPong, k)
}

func TestStringRendering(t *testing.T) {
	assert.True(t, strings.HasSuffix(NewChat("alice", "hi").String(), "alice: hi"))
	assert.Contains(t, NewBinary("bob", []byte("abc"), "").String(), "file (3 bytes)")
	assert.Contains(t, NewNotification("x").String(), "SYSTEM: x")
}
