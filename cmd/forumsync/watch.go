package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"forumsync/internal/journal"
	"forumsync/internal/session"
	"forumsync/internal/state"
	"forumsync/pkg/protocol"
)

var errQuit = errors.New("quit")

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Join an event or discussion and print live updates",
		Description: `Lines read from stdin are sent as messages. Slash commands:
   /q TEXT          submit a question
   /up ID           upvote a question
   /react TYPE      send a reaction
   /reply ID TEXT   reply to a message
   /edit ID TEXT    edit your message
   /del ID          delete a message
   /quit            leave`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Override client.base_url",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "event, discussion or forum (default client.kind)",
			},
			&cli.Int64Flag{
				Name:     "id",
				Usage:    "Event or discussion id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Bearer token",
				EnvVars:  []string{"FORUMSYNC_TOKEN"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Record every frame into the sqlite journal at `PATH`",
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if url := c.String("url"); url != "" {
		cfg.Client.BaseURL = url
	}
	kind := c.String("kind")
	if kind == "" {
		kind = cfg.Client.Kind
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := &printer{w: c.App.Writer}
	opts := session.Options{
		Config:     cfg,
		Kind:       kind,
		ResourceID: c.Int64("id"),
		Token:      c.String("token"),
		OnChange:   out.change,
		OnStatus:   out.status,
		OnError:    out.error,
	}

	if path := c.String("journal"); path != "" {
		cfg.Journal.Path = path
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return err
		}
		defer j.Close()

		recorder, err := journal.NewRecorder(ctx, j, kind, opts.ResourceID)
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts.Tap = recorder
		out.printf("recording %s\n", recorder.RecordingID())
	}

	s, err := session.New(opts)
	if err != nil {
		return err
	}
	out.session = s
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go readLines(ctx, c.App.Reader, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep watching until interrupted
				lines = nil
				continue
			}
			if err := execute(s, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				out.error(err.Error())
			}
		}
	}
}

// readLines forwards stdin until EOF or until ctx ends. A Scan blocked on
// the terminal still holds the goroutine until the next line arrives.
func readLines(ctx context.Context, r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// commander is the slice of session.Session the input loop drives.
type commander interface {
	SendMessage(content string, replyTo *int64) error
	EditMessage(messageID int64, content string) error
	DeleteMessage(messageID int64) error
	SubmitQuestion(content string) error
	UpvoteQuestion(questionID int64) error
	SendReaction(reactionType string) error
}

// execute runs one line of user input. Blank lines are ignored.
func execute(s commander, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.SendMessage(line, nil)
	}

	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "/quit":
		return errQuit
	case "/q":
		return s.SubmitQuestion(rest)
	case "/react":
		return s.SendReaction(rest)
	case "/up":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		return s.UpvoteQuestion(id)
	case "/del":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		return s.DeleteMessage(id)
	case "/edit", "/reply":
		idText, content, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		if err != nil {
			return err
		}
		if verb == "/edit" {
			return s.EditMessage(id, strings.TrimSpace(content))
		}
		return s.SendMessage(strings.TrimSpace(content), &id)
	}
	return fmt.Errorf("unknown command %s", verb)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// watched is the read side of session.Session the printer needs.
type watched interface {
	Store() *state.Store
	ReconnectPending() bool
}

// printer renders session callbacks as one line each.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	session watched
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) status(connected bool) {
	switch {
	case connected:
		p.printf("* connected\n")
	case p.session != nil && p.session.ReconnectPending():
		p.printf("* disconnected, reconnecting\n")
	default:
		p.printf("* disconnected\n")
	}
}

func (p *printer) error(message string) {
	p.printf("! %s\n", message)
}

func (p *printer) change(change state.Change) {
	if !change.Applied || p.session == nil {
		return
	}
	store := p.session.Store()

	switch change.Type {
	case protocol.TypeInitialState:
		view := store.Snapshot()
		p.printf("* synced: %d messages, %d questions, %d online\n",
			len(view.Messages), len(view.Questions), len(view.Participants))
	case protocol.TypeMessageNew, protocol.TypeMessageEdited:
		if msg, ok := store.Message(change.ID); ok {
			p.printf("[%d] %s: %s\n", msg.ID, msg.Author.Username, msg.Content)
		}
	case protocol.TypeMessageDeleted:
		p.printf("[%d] deleted\n", change.ID)
	case protocol.TypeQuestionNew, protocol.TypeQuestionUpvoted:
		if q, ok := store.Question(change.ID); ok {
			p.printf("Q%d (+%d) %s: %s\n", q.ID, q.Upvotes, q.Author.Username, q.Content)
		}
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		p.printf("* %s (%d online)\n", change.Type, len(store.Snapshot().Participants))
	case protocol.TypeEventStatusChanged:
		if ev := store.Snapshot().Event; ev != nil {
			p.printf("* event is %s\n", ev.Status)
		}
	case protocol.TypeReactionReceived:
		reactions := store.Snapshot().Reactions
		if len(reactions) > 0 {
			r := reactions[len(reactions)-1]
			p.printf("~ %s %s\n", r.User.Username, r.ReactionType)
		}
	case protocol.TypeTypingUpdate:
		users := store.Snapshot().TypingUsers
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username)
		}
		if len(names) > 0 {
			p.printf("... %s typing\n", strings.Join(names, ", "))
		}
	}
}

var _ commander = (*session.Session)(nil)
