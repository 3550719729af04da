package client

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsync/pkg/protocol"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []protocol.Command
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) Send(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func newTestEmitter(connected bool) (*Emitter, *fakeSender, *[]string) {
	sender := &fakeSender{connected: connected}
	var errs []string
	e := NewEmitter(sender, func(msg string) { errs = append(errs, msg) }, nil)
	return e, sender, &errs
}

func TestEmitter_NotConnected(t *testing.T) {
	e, sender, errs := newTestEmitter(false)

	err := e.SendMessage("hello", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, []string{"not connected"}, *errs)
	assert.Empty(t, sender.sent)

	assert.ErrorIs(t, e.StartTyping(), ErrNotConnected)
	assert.Len(t, *errs, 2)
}

func TestEmitter_SendsEveryCommand(t *testing.T) {
	e, sender, errs := newTestEmitter(true)
	replyTo := int64(4)

	require.NoError(t, e.SendMessage("hello", &replyTo))
	require.NoError(t, e.EditMessage(1, "edited"))
	require.NoError(t, e.DeleteMessage(1))
	require.NoError(t, e.SubmitQuestion("why?"))
	require.NoError(t, e.UpvoteQuestion(2))
	require.NoError(t, e.SendReaction("clap"))
	require.NoError(t, e.StartTyping())
	require.NoError(t, e.StopTyping())
	require.NoError(t, e.Heartbeat())

	assert.Empty(t, *errs)
	assert.Equal(t, []protocol.Command{
		protocol.SendMessage{Content: "hello", ReplyTo: &replyTo},
		protocol.EditMessage{MessageID: 1, Content: "edited"},
		protocol.DeleteMessage{MessageID: 1},
		protocol.SubmitQuestion{Content: "why?"},
		protocol.UpvoteQuestion{QuestionID: 2},
		protocol.SendReaction{ReactionType: "clap"},
		protocol.TypingStart{},
		protocol.TypingStop{},
		protocol.PresenceUpdate{},
	}, sender.sent)
}

func TestEmitter_ValidatesLocally(t *testing.T) {
	e, sender, errs := newTestEmitter(true)

	assert.ErrorIs(t, e.SendMessage("   ", nil), protocol.ErrEmptyContent)
	assert.ErrorIs(t, e.SubmitQuestion(strings.Repeat("x", protocol.MaxContentLength+1)), protocol.ErrContentTooLong)
	assert.ErrorIs(t, e.DeleteMessage(0), protocol.ErrInvalidID)
	assert.ErrorIs(t, e.SendReaction(""), protocol.ErrEmptyReaction)

	assert.Empty(t, sender.sent)
	assert.Len(t, *errs, 4)
}

func TestEmitter_ReportsSendFailure(t *testing.T) {
	e, sender, errs := newTestEmitter(true)
	sender.sendErr = ErrSendTimeout

	assert.ErrorIs(t, e.UpvoteQuestion(9), ErrSendTimeout)
	assert.Equal(t, []string{ErrSendTimeout.Error()}, *errs)
}
