package client

import (
	"errors"

	"github.com/rs/zerolog"

	"forumsync/internal/logging"
	"forumsync/internal/metrics"
	"forumsync/pkg/protocol"
)

// Sender is the part of Manager the Emitter needs.
type Sender interface {
	Connected() bool
	Send(cmd protocol.Command) error
}

// Emitter turns user intents into commands. Every failure is reported to
// the error callback as well as returned; nothing is queued while offline.
type Emitter struct {
	sender  Sender
	onError func(string)
	metrics *metrics.Client
	logger  zerolog.Logger
}

// NewEmitter creates an emitter. onError and m may be nil.
func NewEmitter(sender Sender, onError func(string), m *metrics.Client) *Emitter {
	return &Emitter{
		sender:  sender,
		onError: onError,
		metrics: m,
		logger:  logging.Component("emitter"),
	}
}

// SendMessage posts a message, optionally as a reply.
func (e *Emitter) SendMessage(content string, replyTo *int64) error {
	return e.emit(protocol.SendMessage{Content: content, ReplyTo: replyTo})
}

// EditMessage replaces the content of one of the user's messages.
func (e *Emitter) EditMessage(messageID int64, content string) error {
	return e.emit(protocol.EditMessage{MessageID: messageID, Content: content})
}

// DeleteMessage removes a message.
func (e *Emitter) DeleteMessage(messageID int64) error {
	return e.emit(protocol.DeleteMessage{MessageID: messageID})
}

// SubmitQuestion posts a question to the event.
func (e *Emitter) SubmitQuestion(content string) error {
	return e.emit(protocol.SubmitQuestion{Content: content})
}

// UpvoteQuestion votes for a question.
func (e *Emitter) UpvoteQuestion(questionID int64) error {
	return e.emit(protocol.UpvoteQuestion{QuestionID: questionID})
}

// SendReaction sends an ephemeral reaction.
func (e *Emitter) SendReaction(reactionType string) error {
	return e.emit(protocol.SendReaction{ReactionType: reactionType})
}

// StartTyping announces that the user started typing.
func (e *Emitter) StartTyping() error {
	return e.emit(protocol.TypingStart{})
}

// StopTyping announces that the user stopped typing.
func (e *Emitter) StopTyping() error {
	return e.emit(protocol.TypingStop{})
}

// Heartbeat sends a presence update outside the periodic schedule.
func (e *Emitter) Heartbeat() error {
	return e.emit(protocol.PresenceUpdate{})
}

func (e *Emitter) emit(cmd protocol.Command) error {
	if !e.sender.Connected() {
		e.reject(cmd, "not_connected", ErrNotConnected)
		return ErrNotConnected
	}
	if err := cmd.Validate(); err != nil {
		e.reject(cmd, "invalid", err)
		return err
	}
	if err := e.sender.Send(cmd); err != nil {
		reason := "send_failed"
		if errors.Is(err, ErrNotConnected) {
			reason = "not_connected"
		}
		e.reject(cmd, reason, err)
		return err
	}
	return nil
}

func (e *Emitter) reject(cmd protocol.Command, reason string, err error) {
	e.metrics.CommandRejected(reason)
	e.logger.Debug().Err(err).Str("command", cmd.CommandType()).Str("reason", reason).Msg("command not sent")
	if e.onError != nil {
		e.onError(err.Error())
	}
}
