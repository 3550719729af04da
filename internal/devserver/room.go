package devserver

import (
	"fmt"
	"sort"
	"time"

	"forumsync/pkg/protocol"
)

type member struct {
	participant protocol.Participant
	conns       int
	lastSeen    time.Time
}

type typist struct {
	user      protocol.UserSummary
	expiresAt time.Time
}

// RoomStats is the per-room view served by the HTTP API.
type RoomStats struct {
	Key          RoomKey `json:"room"`
	Participants int     `json:"participants"`
	Messages     int     `json:"messages"`
	Questions    int     `json:"questions"`
	Typing       int     `json:"typing"`
	Status       string  `json:"status,omitempty"`
}

// Room is the authoritative state of one event or discussion. It is owned
// by the hub goroutine and is not safe for concurrent use.
type Room struct {
	key RoomKey
	now func() time.Time

	messages  []protocol.Message // oldest first
	questions []protocol.Question
	upvoters  map[int64]map[int64]bool
	members   map[int64]*member
	joinOrder []int64
	typing    map[int64]typist
	event     *protocol.Event

	typingTimeout  time.Duration
	nextMessageID  int64
	nextQuestionID int64
}

func newRoom(key RoomKey, typingTimeout time.Duration, now func() time.Time) *Room {
	r := &Room{
		key:           key,
		now:           now,
		upvoters:      make(map[int64]map[int64]bool),
		members:       make(map[int64]*member),
		typing:        make(map[int64]typist),
		typingTimeout: typingTimeout,
	}
	if key.Kind == protocol.KindEvent {
		starts := now().Add(time.Hour).UTC()
		ends := starts.Add(time.Hour)
		r.event = &protocol.Event{
			ID:       key.ID,
			Title:    fmt.Sprintf("Event %d", key.ID),
			Status:   protocol.EventStatusScheduled,
			StartsAt: &starts,
			EndsAt:   &ends,
		}
	}
	return r
}

// Snapshot builds the initial.state frame: messages newest first, questions
// by upvotes, participants in join order.
func (r *Room) Snapshot() protocol.InitialState {
	state := protocol.InitialState{
		Messages:     make([]protocol.Message, 0, len(r.messages)),
		Questions:    make([]protocol.Question, 0, len(r.questions)),
		Participants: make([]protocol.Participant, 0, len(r.joinOrder)),
		TypingUsers:  r.typingUsers(),
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		state.Messages = append(state.Messages, r.messages[i])
	}
	state.Questions = append(state.Questions, r.questions...)
	sort.SliceStable(state.Questions, func(a, b int) bool {
		return state.Questions[a].Upvotes > state.Questions[b].Upvotes
	})
	for _, id := range r.joinOrder {
		state.Participants = append(state.Participants, r.members[id].participant)
	}
	if r.event != nil {
		ev := *r.event
		state.Event = &ev
	}
	return state
}

// Join counts one more connection for identity. The user.joined frame is
// returned only for the user's first connection.
func (r *Room) Join(identity Identity) (protocol.Frame, bool) {
	id := identity.User.ID
	if m, ok := r.members[id]; ok {
		m.conns++
		m.lastSeen = r.now()
		return nil, false
	}

	p := identity.Participant()
	r.members[id] = &member{participant: p, conns: 1, lastSeen: r.now()}
	r.joinOrder = append(r.joinOrder, id)
	return protocol.UserJoined{User: p}, true
}

// Leave drops one connection for userID. When the last one goes the user
// leaves the room and stops typing.
func (r *Room) Leave(userID int64) []protocol.Frame {
	m, ok := r.members[userID]
	if !ok {
		return nil
	}
	m.conns--
	if m.conns > 0 {
		return nil
	}

	delete(r.members, userID)
	for i, id := range r.joinOrder {
		if id == userID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}

	frames := []protocol.Frame{protocol.UserLeft{UserID: userID}}
	if _, typing := r.typing[userID]; typing {
		delete(r.typing, userID)
		frames = append(frames, protocol.TypingUpdate{TypingUsers: r.typingUsers()})
	}
	return frames
}

// Apply executes one command from identity. It returns the frames to
// broadcast, or an error to send back to the sender only.
func (r *Room) Apply(identity Identity, cmd protocol.Command) ([]protocol.Frame, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	user := identity.User
	now := r.now().UTC()

	switch c := cmd.(type) {
	case protocol.SendMessage:
		if c.ReplyTo != nil && r.messageIndex(*c.ReplyTo) < 0 {
			return nil, ErrMessageNotFound
		}
		r.nextMessageID++
		msg := protocol.Message{
			ID:        r.nextMessageID,
			Author:    user,
			Content:   c.Content,
			CreatedAt: now,
			ReplyTo:   c.ReplyTo,
		}
		r.messages = append(r.messages, msg)
		return []protocol.Frame{protocol.MessageNew{Message: msg}}, nil

	case protocol.EditMessage:
		i := r.messageIndex(c.MessageID)
		if i < 0 {
			return nil, ErrMessageNotFound
		}
		msg := &r.messages[i]
		if msg.IsDeleted {
			return nil, ErrMessageDeleted
		}
		if msg.Author.ID != user.ID {
			return nil, ErrNotAuthor
		}
		msg.Content = c.Content
		msg.EditedAt = &now
		return []protocol.Frame{protocol.MessageEdited{Message: *msg}}, nil

	case protocol.DeleteMessage:
		i := r.messageIndex(c.MessageID)
		if i < 0 {
			return nil, ErrMessageNotFound
		}
		msg := &r.messages[i]
		if msg.IsDeleted {
			return nil, ErrMessageDeleted
		}
		if msg.Author.ID != user.ID && identity.Role != RoleHost {
			return nil, ErrNotAuthor
		}
		msg.IsDeleted = true
		msg.Content = ""
		return []protocol.Frame{protocol.MessageDeleted{MessageID: msg.ID}}, nil

	case protocol.SubmitQuestion:
		if err := r.requireOpenEvent(); err != nil {
			return nil, err
		}
		r.nextQuestionID++
		q := protocol.Question{
			ID:        r.nextQuestionID,
			Author:    user,
			Content:   c.Content,
			Status:    protocol.QuestionStatusPending,
			CreatedAt: now,
		}
		r.questions = append(r.questions, q)
		return []protocol.Frame{protocol.QuestionNew{Question: q}}, nil

	case protocol.UpvoteQuestion:
		if r.event == nil {
			return nil, ErrQuestionsOnly
		}
		i := r.questionIndex(c.QuestionID)
		if i < 0 {
			return nil, ErrQuestionNotFound
		}
		q := &r.questions[i]
		if q.Author.ID == user.ID {
			return nil, ErrOwnQuestion
		}
		voters := r.upvoters[q.ID]
		if voters == nil {
			voters = make(map[int64]bool)
			r.upvoters[q.ID] = voters
		}
		if voters[user.ID] {
			return nil, ErrAlreadyUpvoted
		}
		voters[user.ID] = true
		q.Upvotes++
		return []protocol.Frame{protocol.QuestionUpvoted{Question: *q}}, nil

	case protocol.SendReaction:
		return []protocol.Frame{protocol.ReactionReceived{Reaction: protocol.Reaction{
			User:         user,
			ReactionType: c.ReactionType,
			Timestamp:    now,
		}}}, nil

	case protocol.TypingStart:
		_, already := r.typing[user.ID]
		r.typing[user.ID] = typist{user: user, expiresAt: r.now().Add(r.typingTimeout)}
		if already {
			return nil, nil
		}
		return []protocol.Frame{protocol.TypingUpdate{TypingUsers: r.typingUsers()}}, nil

	case protocol.TypingStop:
		if _, ok := r.typing[user.ID]; !ok {
			return nil, nil
		}
		delete(r.typing, user.ID)
		return []protocol.Frame{protocol.TypingUpdate{TypingUsers: r.typingUsers()}}, nil

	case protocol.PresenceUpdate:
		if m, ok := r.members[user.ID]; ok {
			m.lastSeen = r.now()
		}
		return nil, nil
	}

	return nil, ErrUnsupported
}

// ExpireTyping drops typists whose last typing.start is older than the
// timeout.
func (r *Room) ExpireTyping(now time.Time) (protocol.Frame, bool) {
	changed := false
	for id, t := range r.typing {
		if !t.expiresAt.After(now) {
			delete(r.typing, id)
			changed = true
		}
	}
	if !changed {
		return nil, false
	}
	return protocol.TypingUpdate{TypingUsers: r.typingUsers()}, true
}

// SetEventStatus changes the event lifecycle status.
func (r *Room) SetEventStatus(status string) (protocol.Frame, error) {
	if r.event == nil {
		return nil, ErrNotAnEvent
	}
	switch status {
	case protocol.EventStatusScheduled, protocol.EventStatusLive, protocol.EventStatusEnded, protocol.EventStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	r.event.Status = status
	return protocol.EventStatusChanged{Status: status}, nil
}

// Stats summarises the room for the HTTP API.
func (r *Room) Stats() RoomStats {
	stats := RoomStats{
		Key:          r.key,
		Participants: len(r.members),
		Messages:     len(r.messages),
		Questions:    len(r.questions),
		Typing:       len(r.typing),
	}
	if r.event != nil {
		stats.Status = r.event.Status
	}
	return stats
}

func (r *Room) requireOpenEvent() error {
	if r.event == nil {
		return ErrQuestionsOnly
	}
	if r.event.Status == protocol.EventStatusEnded || r.event.Status == protocol.EventStatusCancelled {
		return ErrEventClosed
	}
	return nil
}

func (r *Room) typingUsers() []protocol.UserSummary {
	users := make([]protocol.UserSummary, 0, len(r.typing))
	for _, t := range r.typing {
		users = append(users, t.user)
	}
	sort.Slice(users, func(a, b int) bool { return users[a].ID < users[b].ID })
	return users
}

func (r *Room) messageIndex(id int64) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) questionIndex(id int64) int {
	for i := range r.questions {
		if r.questions[i].ID == id {
			return i
		}
	}
	return -1
}
