package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound frame types pushed by the server
const (
	TypeInitialState       = "initial.state"
	TypeMessageNew         = "message.new"
	TypeMessageEdited      = "message.edited"
	TypeMessageDeleted     = "message.deleted"
	TypeQuestionNew        = "question.new"
	TypeQuestionUpvoted    = "question.upvoted"
	TypeUserJoined         = "user.joined"
	TypeUserLeft           = "user.left"
	TypeReactionReceived   = "reaction.received"
	TypeEventStatusChanged = "event.status_changed"
	TypeTypingUpdate       = "typing.update"
	TypeError              = "error"
)

// Frame is a decoded inbound frame. The set of variants is closed: only this
// package can implement it, so consumers switch on the concrete types below.
type Frame interface {
	FrameType() string
	isFrame()
}

// InitialState is the full snapshot sent after every (re)connect.
type InitialState struct {
	Messages     []Message     `json:"messages"`
	Questions    []Question    `json:"questions"`
	Participants []Participant `json:"participants"`
	Event        *Event        `json:"event,omitempty"`
	TypingUsers  []UserSummary `json:"typing_users,omitempty"`
}

// MessageNew announces a posted message.
type MessageNew struct {
	Message Message `json:"message"`
}

// MessageEdited carries the message with its new content.
type MessageEdited struct {
	Message Message `json:"message"`
}

// MessageDeleted marks a message as deleted.
type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
}

// QuestionNew announces a submitted question.
type QuestionNew struct {
	Question Question `json:"question"`
}

// QuestionUpvoted carries the full question with its authoritative count.
type QuestionUpvoted struct {
	Question Question `json:"question"`
}

// UserJoined adds a participant.
type UserJoined struct {
	User Participant `json:"user"`
}

// UserLeft removes a participant by id.
type UserLeft struct {
	UserID int64 `json:"user_id"`
}

// ReactionReceived delivers one ephemeral reaction.
type ReactionReceived struct {
	Reaction Reaction `json:"reaction"`
}

// EventStatusChanged updates the event status.
type EventStatusChanged struct {
	Status string `json:"status"`
}

// TypingUpdate replaces the set of users currently typing.
type TypingUpdate struct {
	TypingUsers []UserSummary `json:"typing_users"`
}

// ErrorFrame is a server-side rejection of a client action.
type ErrorFrame struct {
	Message string `json:"message"`
}

// Unknown holds a frame whose type this client does not understand.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (InitialState) FrameType() string       { return TypeInitialState }
func (MessageNew) FrameType() string         { return TypeMessageNew }
func (MessageEdited) FrameType() string      { return TypeMessageEdited }
func (MessageDeleted) FrameType() string     { return TypeMessageDeleted }
func (QuestionNew) FrameType() string        { return TypeQuestionNew }
func (QuestionUpvoted) FrameType() string    { return TypeQuestionUpvoted }
func (UserJoined) FrameType() string         { return TypeUserJoined }
func (UserLeft) FrameType() string           { return TypeUserLeft }
func (ReactionReceived) FrameType() string   { return TypeReactionReceived }
func (EventStatusChanged) FrameType() string { return TypeEventStatusChanged }
func (TypingUpdate) FrameType() string       { return TypeTypingUpdate }
func (ErrorFrame) FrameType() string         { return TypeError }
func (u Unknown) FrameType() string          { return u.Type }

func (InitialState) isFrame()       {}
func (MessageNew) isFrame()         {}
func (MessageEdited) isFrame()      {}
func (MessageDeleted) isFrame()     {}
func (QuestionNew) isFrame()        {}
func (QuestionUpvoted) isFrame()    {}
func (UserJoined) isFrame()         {}
func (UserLeft) isFrame()           {}
func (ReactionReceived) isFrame()   {}
func (EventStatusChanged) isFrame() {}
func (TypingUpdate) isFrame()       {}
func (ErrorFrame) isFrame()         {}
func (Unknown) isFrame()            {}

type envelope struct {
	Type string `json:"type"`
}

var frameDecoders = map[string]func([]byte) (Frame, error){
	TypeInitialState:       decodeFrame[InitialState],
	TypeMessageNew:         decodeFrame[MessageNew],
	TypeMessageEdited:      decodeFrame[MessageEdited],
	TypeMessageDeleted:     decodeFrame[MessageDeleted],
	TypeQuestionNew:        decodeFrame[QuestionNew],
	TypeQuestionUpvoted:    decodeFrame[QuestionUpvoted],
	TypeUserJoined:         decodeFrame[UserJoined],
	TypeUserLeft:           decodeFrame[UserLeft],
	TypeReactionReceived:   decodeFrame[ReactionReceived],
	TypeEventStatusChanged: decodeFrame[EventStatusChanged],
	TypeTypingUpdate:       decodeFrame[TypingUpdate],
	TypeError:              decodeFrame[ErrorFrame],
}

func decodeFrame[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode parses one inbound text frame. Unrecognised types decode to Unknown
// without error so that new server vocabulary never breaks older clients.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, ErrMissingType)
	}

	decode, ok := frameDecoders[env.Type]
	if !ok {
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	frame, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return frame, nil
}

// Encode serialises a frame with its type discriminator.
func Encode(f Frame) ([]byte, error) {
	if u, ok := f.(Unknown); ok {
		return u.Raw, nil
	}
	return encodeTyped(f.FrameType(), f)
}

// encodeTyped writes {"type": t, ...fields of v}.
func encodeTyped(t string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
