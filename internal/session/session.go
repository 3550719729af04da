// Package session is the host-facing entry point: one Session per open
// event or discussion, composing the connection manager, command emitter,
// reducer, reaction decay and typing debounce.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forumsync/internal/client"
	"forumsync/internal/config"
	"forumsync/internal/logging"
	"forumsync/internal/metrics"
	"forumsync/internal/state"
	"forumsync/internal/typing"
	"forumsync/pkg/protocol"
)

// Options configures a Session. Config may be nil for defaults.
type Options struct {
	Config     *config.Config
	Kind       string
	ResourceID int64
	Token      string

	// OnChange is called after every frame that altered state and after
	// reactions expire.
	OnChange func(state.Change)
	// OnStatus reports connected/disconnected transitions.
	OnStatus func(connected bool)
	// OnError receives server error frames verbatim and local failures
	// such as "not connected".
	OnError func(message string)

	Dialer  client.Dialer
	Tap     client.Tap
	Metrics *metrics.Client
	Clock   func() time.Time
}

// Session is one host-facing subscription to a forum or event.
type Session struct {
	opts   Options
	logger zerolog.Logger

	manager *client.Manager
	emitter *client.Emitter
	store   *state.Store
	decayer *state.Decayer
	typing  *typing.Coordinator

	mu      sync.Mutex
	token   string
	started bool
	closed  bool
}

// New validates opts and wires the components. Nothing connects until
// Start.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Kind == "" {
		opts.Kind = opts.Config.Client.Kind
	}
	if !protocol.ValidKind(opts.Kind) {
		return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidKind, opts.Kind)
	}
	if opts.ResourceID <= 0 {
		return nil, protocol.ErrInvalidResource
	}
	if opts.Token == "" {
		return nil, protocol.ErrMissingToken
	}

	s := &Session{
		opts:  opts,
		token: opts.Token,
		logger: logging.Component("session").With().
			Str("kind", opts.Kind).
			Int64("resource", opts.ResourceID).
			Logger(),
	}

	s.store = state.NewStore(state.Options{
		ReactionCap:    opts.Config.Ephemeral.ReactionCap,
		ReactionWindow: opts.Config.Ephemeral.ReactionWindow,
		Clock:          opts.Clock,
	})
	s.decayer = state.NewDecayer(s.store, s.handleExpired)

	managerOpts := client.OptionsFromConfig(opts.Config.Client)
	managerOpts.Kind = opts.Kind
	managerOpts.Dialer = opts.Dialer
	managerOpts.Tap = opts.Tap
	managerOpts.Metrics = opts.Metrics
	managerOpts.OnFrame = s.handleFrame
	managerOpts.OnStatus = s.handleStatus
	s.manager = client.NewManager(managerOpts)

	s.emitter = client.NewEmitter(s.manager, s.reportError, opts.Metrics)
	s.typing = typing.New(s.emitter, opts.Config.Ephemeral.TypingIdle)

	return s, nil
}

// Start begins reaction decay and opens the socket. ctx bounds the decay
// loop; Close stops everything regardless.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	token := s.token
	s.mu.Unlock()

	s.decayer.Start(ctx)
	if err := s.manager.Connect(s.opts.ResourceID, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.logger.Info().Msg("session started")
	return nil
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.typing.Close()
	s.manager.Disconnect()
	s.decayer.Stop()
	s.logger.Info().Msg("session closed")
}

// SetToken swaps the credential: the socket is closed normally and reopened
// under the new identity. State is rebuilt from the next initial.state.
func (s *Session) SetToken(token string) error {
	if token == "" {
		return protocol.ErrMissingToken
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.token = token
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	s.typing.Sent()
	return s.manager.Reconnect(s.opts.ResourceID, token)
}

// Snapshot copies the current view.
func (s *Session) Snapshot() state.View {
	return s.store.Snapshot()
}

// Connected reports whether the socket is open.
func (s *Session) Connected() bool {
	return s.manager.Connected()
}

// ReconnectPending reports whether a reconnect is scheduled. It is false
// after a normal close or Close.
func (s *Session) ReconnectPending() bool {
	return s.manager.ReconnectPending()
}

// Store exposes the reducer for read access.
func (s *Session) Store() *state.Store {
	return s.store
}

// Keystroke feeds the typing debounce.
func (s *Session) Keystroke() {
	s.typing.Keystroke()
}

// Sent ends a typing burst without sending a message.
func (s *Session) Sent() {
	s.typing.Sent()
}

// SendMessage ends the current typing burst and sends content.
func (s *Session) SendMessage(content string, replyTo *int64) error {
	s.typing.Sent()
	return s.emitter.SendMessage(content, replyTo)
}

// EditMessage asks the server to replace a message's content.
func (s *Session) EditMessage(messageID int64, content string) error {
	return s.emitter.EditMessage(messageID, content)
}

// DeleteMessage asks the server to delete a message.
func (s *Session) DeleteMessage(messageID int64) error {
	return s.emitter.DeleteMessage(messageID)
}

// SubmitQuestion posts a question to the event.
func (s *Session) SubmitQuestion(content string) error {
	return s.emitter.SubmitQuestion(content)
}

// UpvoteQuestion adds the user's vote to a question.
func (s *Session) UpvoteQuestion(questionID int64) error {
	return s.emitter.UpvoteQuestion(questionID)
}

// SendReaction sends an ephemeral reaction.
func (s *Session) SendReaction(reactionType string) error {
	return s.emitter.SendReaction(reactionType)
}

func (s *Session) handleFrame(frame protocol.Frame) {
	change := s.store.Apply(frame)

	if change.Type == protocol.TypeError {
		s.logger.Warn().Str("error", change.Error).Msg("server rejected action")
		s.reportError(change.Error)
	}
	if !change.Applied {
		return
	}
	if change.Type == protocol.TypeReactionReceived {
		s.decayer.Notify()
	}
	if s.opts.OnChange != nil {
		s.opts.OnChange(change)
	}
}

func (s *Session) handleStatus(connected bool) {
	if !connected {
		s.store.MarkStale()
	}
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(connected)
	}
}

func (s *Session) handleExpired(removed int) {
	s.logger.Debug().Int("removed", removed).Msg("reactions expired")
	if s.opts.OnChange != nil {
		s.opts.OnChange(state.Change{Type: state.ChangeReactionsExpired, Applied: true})
	}
}

func (s *Session) reportError(message string) {
	if s.opts.OnError != nil {
		s.opts.OnError(message)
	}
}
