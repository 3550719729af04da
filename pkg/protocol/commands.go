package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Outbound command types sent by the client
const (
	CommandSendMessage    = "message.send"
	CommandEditMessage    = "message.edit"
	CommandDeleteMessage  = "message.delete"
	CommandSubmitQuestion = "question.submit"
	CommandUpvoteQuestion = "question.upvote"
	CommandSendReaction   = "reaction.send"
	CommandTypingStart    = "typing.start"
	CommandTypingStop     = "typing.stop"
	CommandPresence       = "presence.update"
)

// MaxContentLength bounds message and question bodies in runes.
const MaxContentLength = 5000

// Command is an outbound frame built from a user action.
type Command interface {
	CommandType() string
	Validate() error
	isCommand()
}

// SendMessage posts a message. ReplyTo is omitted for top-level posts.
type SendMessage struct {
	Content string `json:"content"`
	ReplyTo *int64 `json:"reply_to,omitempty"`
}

// EditMessage replaces a message's content.
type EditMessage struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMessage deletes a message.
type DeleteMessage struct {
	MessageID int64 `json:"message_id"`
}

// SubmitQuestion posts a question to an event.
type SubmitQuestion struct {
	Content string `json:"content"`
}

// UpvoteQuestion votes for a question.
type UpvoteQuestion struct {
	QuestionID int64 `json:"question_id"`
}

// SendReaction sends an ephemeral reaction.
type SendReaction struct {
	ReactionType string `json:"reaction_type"`
}

// TypingStart and TypingStop bracket a typing burst.
type TypingStart struct{}

type TypingStop struct{}

// PresenceUpdate is the heartbeat frame. It has no payload.
type PresenceUpdate struct{}

func (SendMessage) CommandType() string    { return CommandSendMessage }
func (EditMessage) CommandType() string    { return CommandEditMessage }
func (DeleteMessage) CommandType() string  { return CommandDeleteMessage }
func (SubmitQuestion) CommandType() string { return CommandSubmitQuestion }
func (UpvoteQuestion) CommandType() string { return CommandUpvoteQuestion }
func (SendReaction) CommandType() string   { return CommandSendReaction }
func (TypingStart) CommandType() string    { return CommandTypingStart }
func (TypingStop) CommandType() string     { return CommandTypingStop }
func (PresenceUpdate) CommandType() string { return CommandPresence }

func (SendMessage) isCommand()    {}
func (EditMessage) isCommand()    {}
func (DeleteMessage) isCommand()  {}
func (SubmitQuestion) isCommand() {}
func (UpvoteQuestion) isCommand() {}
func (SendReaction) isCommand()   {}
func (TypingStart) isCommand()    {}
func (TypingStop) isCommand()     {}
func (PresenceUpdate) isCommand() {}

func (c SendMessage) Validate() error {
	if c.ReplyTo != nil && *c.ReplyTo <= 0 {
		return ErrInvalidID
	}
	return validateContent(c.Content)
}

func (c EditMessage) Validate() error {
	if c.MessageID <= 0 {
		return ErrInvalidID
	}
	return validateContent(c.Content)
}

func (c DeleteMessage) Validate() error {
	if c.MessageID <= 0 {
		return ErrInvalidID
	}
	return nil
}

func (c SubmitQuestion) Validate() error { return validateContent(c.Content) }

func (c UpvoteQuestion) Validate() error {
	if c.QuestionID <= 0 {
		return ErrInvalidID
	}
	return nil
}

func (c SendReaction) Validate() error {
	if strings.TrimSpace(c.ReactionType) == "" {
		return ErrEmptyReaction
	}
	return nil
}

func (TypingStart) Validate() error    { return nil }
func (TypingStop) Validate() error     { return nil }
func (PresenceUpdate) Validate() error { return nil }

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

var commandDecoders = map[string]func([]byte) (Command, error){
	CommandSendMessage:    decodeCommand[SendMessage],
	CommandEditMessage:    decodeCommand[EditMessage],
	CommandDeleteMessage:  decodeCommand[DeleteMessage],
	CommandSubmitQuestion: decodeCommand[SubmitQuestion],
	CommandUpvoteQuestion: decodeCommand[UpvoteQuestion],
	CommandSendReaction:   decodeCommand[SendReaction],
	CommandTypingStart:    decodeCommand[TypingStart],
	CommandTypingStop:     decodeCommand[TypingStop],
	CommandPresence:       decodeCommand[PresenceUpdate],
}

func decodeCommand[T Command](data []byte) (Command, error) {
	var c T
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeCommand serialises a command as a single JSON object.
func EncodeCommand(c Command) ([]byte, error) {
	return encodeTyped(c.CommandType(), c)
}

// DecodeCommand parses an outbound frame. Unlike Decode, an unknown type is
// an error: servers must reject vocabulary they do not implement.
func DecodeCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, ErrMissingType)
	}

	decode, ok := commandDecoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, env.Type)
	}

	cmd, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return cmd, nil
}
