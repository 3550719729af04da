package devserver

import "errors"

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrNilConnection    = errors.New("connection cannot be nil")
)

// Auth errors
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Hub errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotAnEvent        = errors.New("room is not an event")
	ErrInvalidStatus     = errors.New("invalid event status")
)

// Command rejections, sent back to the client verbatim in error frames
var (
	ErrRateLimited      = errors.New("Rate limit exceeded")
	ErrMessageNotFound  = errors.New("Message not found")
	ErrQuestionNotFound = errors.New("Question not found")
	ErrNotAuthor        = errors.New("You can only modify your own messages")
	ErrMessageDeleted   = errors.New("Message has been deleted")
	ErrAlreadyUpvoted   = errors.New("You have already upvoted this question")
	ErrOwnQuestion      = errors.New("You cannot upvote your own question")
	ErrQuestionsOnly    = errors.New("Questions are only available for events")
	ErrEventClosed      = errors.New("Event has ended")
	ErrUnsupported      = errors.New("Unsupported command")
	ErrNotJoined        = errors.New("Not joined to this room")
)
