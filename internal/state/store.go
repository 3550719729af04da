package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forumsync/pkg/protocol"
)

const (
	DefaultReactionCap    = 50
	DefaultReactionWindow = 3 * time.Second
)

// Options configures a Store. Zero values take the defaults above.
type Options struct {
	ReactionCap    int
	ReactionWindow time.Duration
	Clock          func() time.Time
	Logger         *zerolog.Logger
}

// Change describes the outcome of applying one frame.
type Change struct {
	Type    string
	Applied bool
	// ID is the message, question or user the frame targeted, when it has one.
	ID int64
	// Error carries the text of a server error frame for the host callback.
	Error string
}

// View is a point-in-time copy of the synchronised collections.
type View struct {
	Messages     []protocol.Message     `json:"messages"`
	Questions    []protocol.Question    `json:"questions"`
	Participants []protocol.Participant `json:"participants"`
	Reactions    []protocol.Reaction    `json:"reactions"`
	TypingUsers  []protocol.UserSummary `json:"typing_users"`
	Event        *protocol.Event        `json:"event,omitempty"`
	Synced       bool                   `json:"synced"`
}

type reactionEntry struct {
	reaction  protocol.Reaction
	expiresAt time.Time
}

// Store is the only writer of the forum/event collections. Every mutation
// goes through Apply (server frames) or Sweep (reaction decay).
type Store struct {
	mu sync.RWMutex

	messages     []protocol.Message // newest first
	questions    []protocol.Question
	participants []protocol.Participant
	reactions    []reactionEntry // arrival order
	typing       []protocol.UserSummary
	event        *protocol.Event
	synced       bool

	reactionCap    int
	reactionWindow time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// NewStore creates an empty, unsynced store.
func NewStore(opts Options) *Store {
	s := &Store{
		reactionCap:    opts.ReactionCap,
		reactionWindow: opts.ReactionWindow,
		now:            opts.Clock,
		logger:         log.Logger,
	}
	if s.reactionCap <= 0 {
		s.reactionCap = DefaultReactionCap
	}
	if s.reactionWindow <= 0 {
		s.reactionWindow = DefaultReactionWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	s.logger = s.logger.With().Str("component", "state").Logger()
	return s
}

// Apply performs exactly one transition for frame. It never panics on
// unexpected input: unknown ids and unknown frame types are no-ops.
func (s *Store) Apply(frame protocol.Frame) Change {
	if frame == nil {
		return Change{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	change := Change{Type: frame.FrameType()}

	switch f := frame.(type) {
	case protocol.InitialState:
		s.messages = append([]protocol.Message(nil), f.Messages...)
		s.questions = append([]protocol.Question(nil), f.Questions...)
		s.participants = s.participants[:0:0]
		for _, p := range f.Participants {
			if indexParticipant(s.participants, p.ID) < 0 {
				s.participants = append(s.participants, p)
			}
		}
		s.typing = append([]protocol.UserSummary(nil), f.TypingUsers...)
		s.reactions = nil
		s.event = nil
		if f.Event != nil {
			ev := *f.Event
			s.event = &ev
		}
		s.synced = true
		change.Applied = true

	case protocol.MessageNew:
		change.ID = f.Message.ID
		if i := indexMessage(s.messages, f.Message.ID); i >= 0 {
			s.messages[i] = f.Message
		} else {
			s.messages = append([]protocol.Message{f.Message}, s.messages...)
		}
		change.Applied = true

	case protocol.MessageEdited:
		change.ID = f.Message.ID
		if i := indexMessage(s.messages, f.Message.ID); i >= 0 {
			s.messages[i] = f.Message
			change.Applied = true
		}

	case protocol.MessageDeleted:
		change.ID = f.MessageID
		if i := indexMessage(s.messages, f.MessageID); i >= 0 {
			s.messages[i].IsDeleted = true
			change.Applied = true
		}

	case protocol.QuestionNew:
		change.ID = f.Question.ID
		if i := indexQuestion(s.questions, f.Question.ID); i >= 0 {
			s.questions[i] = f.Question
		} else {
			s.questions = append([]protocol.Question{f.Question}, s.questions...)
		}
		change.Applied = true

	case protocol.QuestionUpvoted:
		change.ID = f.Question.ID
		if i := indexQuestion(s.questions, f.Question.ID); i >= 0 {
			s.questions[i] = f.Question
			sort.SliceStable(s.questions, func(a, b int) bool {
				return s.questions[a].Upvotes > s.questions[b].Upvotes
			})
			change.Applied = true
		}

	case protocol.UserJoined:
		change.ID = f.User.ID
		if indexParticipant(s.participants, f.User.ID) < 0 {
			s.participants = append(s.participants, f.User)
			change.Applied = true
		}

	case protocol.UserLeft:
		change.ID = f.UserID
		if i := indexParticipant(s.participants, f.UserID); i >= 0 {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			change.Applied = true
		}

	case protocol.ReactionReceived:
		change.ID = f.Reaction.User.ID
		s.reactions = append(s.reactions, reactionEntry{
			reaction:  f.Reaction,
			expiresAt: s.now().Add(s.reactionWindow),
		})
		if over := len(s.reactions) - s.reactionCap; over > 0 {
			n := copy(s.reactions, s.reactions[over:])
			s.reactions = s.reactions[:n]
		}
		change.Applied = true

	case protocol.EventStatusChanged:
		if s.event != nil {
			ev := *s.event
			ev.Status = f.Status
			s.event = &ev
			change.ID = ev.ID
			change.Applied = true
		}

	case protocol.TypingUpdate:
		s.typing = append([]protocol.UserSummary(nil), f.TypingUsers...)
		change.Applied = true

	case protocol.ErrorFrame:
		change.Error = f.Message

	case protocol.Unknown:
		s.logger.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")

	default:
		s.logger.Debug().Str("type", frame.FrameType()).Msg("ignoring unhandled frame")
	}

	if !change.Applied && change.ID != 0 {
		s.logger.Debug().Str("type", change.Type).Int64("id", change.ID).Msg("frame did not match local state")
	}
	return change
}

// Sweep removes reactions whose display window ended at or before now and
// returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.reactions[:0]
	for _, r := range s.reactions {
		if r.expiresAt.After(now) {
			kept = append(kept, r)
		}
	}
	removed := len(s.reactions) - len(kept)
	for i := len(kept); i < len(s.reactions); i++ {
		s.reactions[i] = reactionEntry{}
	}
	s.reactions = kept
	return removed
}

// NextExpiry reports the earliest pending reaction deadline.
func (s *Store) NextExpiry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reactions) == 0 {
		return time.Time{}, false
	}
	next := s.reactions[0].expiresAt
	for _, r := range s.reactions[1:] {
		if r.expiresAt.Before(next) {
			next = r.expiresAt
		}
	}
	return next, true
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// MarkStale flags the collections as awaiting a fresh initial.state, which
// happens whenever the socket drops.
func (s *Store) MarkStale() {
	s.mu.Lock()
	s.synced = false
	s.mu.Unlock()
}

// Synced reports whether an initial.state has been applied since the last
// MarkStale.
func (s *Store) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Snapshot returns copies of every collection.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Messages:     append([]protocol.Message{}, s.messages...),
		Questions:    append([]protocol.Question{}, s.questions...),
		Participants: append([]protocol.Participant{}, s.participants...),
		TypingUsers:  append([]protocol.UserSummary{}, s.typing...),
		Reactions:    make([]protocol.Reaction, 0, len(s.reactions)),
		Synced:       s.synced,
	}
	for _, r := range s.reactions {
		v.Reactions = append(v.Reactions, r.reaction)
	}
	if s.event != nil {
		ev := *s.event
		v.Event = &ev
	}
	return v
}

// Message looks up one message by id.
func (s *Store) Message(id int64) (protocol.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexMessage(s.messages, id); i >= 0 {
		return s.messages[i], true
	}
	return protocol.Message{}, false
}

// Question looks up one question by id.
func (s *Store) Question(id int64) (protocol.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexQuestion(s.questions, id); i >= 0 {
		return s.questions[i], true
	}
	return protocol.Question{}, false
}

func indexMessage(list []protocol.Message, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func indexQuestion(list []protocol.Question, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func indexParticipant(list []protocol.Participant, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
