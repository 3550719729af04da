package protocol

import (
	"time"
)

// Resource kinds accepted in the socket path
const (
	KindEvent      = "event"
	KindDiscussion = "discussion"
	KindForum      = "forum"
)

// Question statuses used by the event Q&A
const (
	QuestionStatusPending  = "pending"
	QuestionStatusAnswered = "answered"
	QuestionStatusFeatured = "featured"
)

// Event statuses
const (
	EventStatusScheduled = "scheduled"
	EventStatusLive      = "live"
	EventStatusEnded     = "ended"
	EventStatusCancelled = "cancelled"
)

// UserSummary is the compact author representation embedded in messages,
// questions and reactions.
type UserSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Message is a forum post. Only reducer transitions driven by server frames
// may change it.
type Message struct {
	ID        int64       `json:"id"`
	Author    UserSummary `json:"author"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	IsDeleted bool        `json:"is_deleted"`
	ReplyTo   *int64      `json:"reply_to,omitempty"`
}

// Question is an event Q&A entry. Upvotes are server-authoritative.
type Question struct {
	ID         int64       `json:"id"`
	Author     UserSummary `json:"author"`
	Content    string      `json:"content"`
	Status     string      `json:"status"`
	Upvotes    int         `json:"upvotes"`
	IsFeatured bool        `json:"is_featured"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Participant is an online user in a discussion or event.
type Participant struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Reaction is a transient emoji-style reaction, identified by
// (user, type, timestamp).
type Reaction struct {
	User         UserSummary `json:"user"`
	ReactionType string      `json:"reaction_type"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Event is the snapshot of the event a socket is subscribed to.
type Event struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
}

// Summary returns the author view of a participant.
func (p Participant) Summary() UserSummary {
	return UserSummary{ID: p.ID, Username: p.Username, DisplayName: p.DisplayName}
}
