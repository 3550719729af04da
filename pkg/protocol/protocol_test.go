package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, f Frame)
	}{
		{
			name:  "initial state",
			input: `{"type":"initial.state","messages":[],"questions":[],"participants":[{"id":1,"username":"ana"}]}`,
			check: func(t *testing.T, f Frame) {
				s, ok := f.(InitialState)
				require.True(t, ok)
				assert.Empty(t, s.Messages)
				require.Len(t, s.Participants, 1)
				assert.Equal(t, int64(1), s.Participants[0].ID)
				assert.Nil(t, s.Event)
			},
		},
		{
			name:  "message new",
			input: `{"type":"message.new","message":{"id":100,"author":{"id":1,"username":"ana"},"content":"hello"}}`,
			check: func(t *testing.T, f Frame) {
				m, ok := f.(MessageNew)
				require.True(t, ok)
				assert.Equal(t, int64(100), m.Message.ID)
				assert.Equal(t, "hello", m.Message.Content)
			},
		},
		{
			name:  "message deleted",
			input: `{"type":"message.deleted","message_id":100}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, MessageDeleted{MessageID: 100}, f)
			},
		},
		{
			name:  "user left",
			input: `{"type":"user.left","user_id":7}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, UserLeft{UserID: 7}, f)
			},
		},
		{
			name:  "status changed",
			input: `{"type":"event.status_changed","status":"live"}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, EventStatusChanged{Status: EventStatusLive}, f)
			},
		},
		{
			name:  "error",
			input: `{"type":"error","message":"You cannot edit this message"}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, ErrorFrame{Message: "You cannot edit this message"}, f)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	raw := `{"type":"poll.created","poll":{"id":3}}`
	f, err := Decode([]byte(raw))
	require.NoError(t, err)

	u, ok := f.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "poll.created", u.FrameType())
	assert.JSONEq(t, raw, string(u.Raw))
}

func TestDecode_Malformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"message_id":1}`,
		`{"type":"message.deleted","message_id":"abc"}`,
		`[]`,
	}
	for _, in := range inputs {
		_, err := Decode([]byte(in))
		assert.True(t, errors.Is(err, ErrMalformedFrame), "input %q: got %v", in, err)
	}
}

func TestEncode_AddsTypeDiscriminator(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(ReactionReceived{Reaction: Reaction{
		User:         UserSummary{ID: 2, Username: "bo"},
		ReactionType: "clap",
		Timestamp:    ts,
	}})
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, TypeReactionReceived, generic["type"])

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "clap", back.(ReactionReceived).Reaction.ReactionType)
	assert.True(t, ts.Equal(back.(ReactionReceived).Reaction.Timestamp))
}

func TestEncodeCommand_EmptyPayload(t *testing.T) {
	for _, c := range []Command{TypingStart{}, TypingStop{}, PresenceUpdate{}} {
		data, err := EncodeCommand(c)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"`+c.CommandType()+`"}`, string(data))
	}
}

func TestEncodeCommand_SendMessageReply(t *testing.T) {
	reply := int64(41)
	data, err := EncodeCommand(SendMessage{Content: "agreed", ReplyTo: &reply})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message.send","content":"agreed","reply_to":41}`, string(data))

	data, err = EncodeCommand(SendMessage{Content: "top level"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message.send","content":"top level"}`, string(data))
}

func TestDecodeCommand(t *testing.T) {
	c, err := DecodeCommand([]byte(`{"type":"question.upvote","question_id":9}`))
	require.NoError(t, err)
	assert.Equal(t, UpvoteQuestion{QuestionID: 9}, c)

	_, err = DecodeCommand([]byte(`{"type":"poll.vote"}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = DecodeCommand([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestCommand_Validate(t *testing.T) {
	zero := int64(0)
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"valid message", SendMessage{Content: "hi"}, nil},
		{"blank message", SendMessage{Content: "   "}, ErrEmptyContent},
		{"bad reply target", SendMessage{Content: "hi", ReplyTo: &zero}, ErrInvalidID},
		{"too long", SubmitQuestion{Content: strings.Repeat("a", MaxContentLength+1)}, ErrContentTooLong},
		{"edit without id", EditMessage{Content: "x"}, ErrInvalidID},
		{"delete without id", DeleteMessage{}, ErrInvalidID},
		{"upvote without id", UpvoteQuestion{}, ErrInvalidID},
		{"empty reaction", SendReaction{}, ErrEmptyReaction},
		{"typing", TypingStart{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.cmd.Validate())
		})
	}
}

func TestBuildURL(t *testing.T) {
	u, err := BuildURL("https://ir.example.com", KindEvent, 12, "abc def")
	require.NoError(t, err)
	assert.Equal(t, "wss://ir.example.com/ws/event/12/?token=abc+def", u)

	u, err = BuildURL("http://localhost:8000/api/", KindDiscussion, 3, "t")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/api/ws/discussion/3/?token=t", u)

	_, err = BuildURL("http://x", "chat", 1, "t")
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = BuildURL("http://x", KindEvent, 0, "t")
	assert.ErrorIs(t, err, ErrInvalidResource)
	_, err = BuildURL("http://x", KindEvent, 1, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = BuildURL("ftp://x", KindEvent, 1, "t")
	assert.Error(t, err)
}

func TestParsePath(t *testing.T) {
	kind, id, err := ParsePath("/ws/forum/44/")
	require.NoError(t, err)
	assert.Equal(t, KindForum, kind)
	assert.Equal(t, int64(44), id)

	_, _, err = ParsePath("/ws/forum/")
	assert.Error(t, err)
	_, _, err = ParsePath("/ws/room/4/")
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, _, err = ParsePath("/ws/event/-4/")
	assert.ErrorIs(t, err, ErrInvalidResource)
}
