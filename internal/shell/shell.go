// Package shell maps user-facing commands to authorization and fetch actions.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/digitaldrywood/fitweight/internal/history"
)

var ErrUnknownCommand = errors.New("unknown command")

const DefaultHistoryDays = 600

type Name string

const (
	Authorize Name = "authorize"
	Yesterday Name = "yesterday"
	History   Name = "history"
	Reset     Name = "reset"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Session is the part of an OAuth session the shell drives.
type Session interface {
	Service() string
	HasValidAccessToken(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
}

type Fetcher interface {
	FetchAndAppend(ctx context.Context, fromDaysAgo, toDaysAgo int) (history.Result, error)
}

// AuthorizeFunc runs the interactive authorization of one service.
type AuthorizeFunc func(ctx context.Context, service string) (bool, error)

type Command struct {
	Name  Name
	Title string
	Run   func(ctx context.Context) error
}

type Shell struct {
	sessions    []Session
	authorize   AuthorizeFunc
	fetcher     Fetcher
	historyDays int
	out         io.Writer
	commands    []Command
}

type Option func(*Shell)

func WithOutput(w io.Writer) Option {
	return func(s *Shell) {
		s.out = w
	}
}

// WithHistoryDays sets how far back the history command reaches.
func WithHistoryDays(days int) Option {
	return func(s *Shell) {
		s.historyDays = days
	}
}

func New(fetcher Fetcher, sessions []Session, authorize AuthorizeFunc, opts ...Option) *Shell {
	s := &Shell{
		sessions:    sessions,
		authorize:   authorize,
		fetcher:     fetcher,
		historyDays: DefaultHistoryDays,
		out:         os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	runs := map[Name]func(context.Context) error{
		Authorize: s.runAuthorize,
		Yesterday: s.fetchRange(1, 1),
		History:   s.fetchRange(1, s.historyDays),
		Reset:     s.runReset,
	}
	s.commands = lo.Map(Menu(s.historyDays), func(c Command, _ int) Command {
		c.Run = runs[c.Name]
		return c
	})
	return s
}

// Menu lists the commands with their titles but without actions, for callers
// that describe the menu before a Shell exists.
func Menu(historyDays int) []Command {
	return []Command{
		{Name: Authorize, Title: "Authorize if needed (does nothing if already authorized)"},
		{Name: Yesterday, Title: "Get Weight for Yesterday"},
		{Name: History, Title: fmt.Sprintf("Get Weight History (%d days)", historyDays)},
		{Name: Reset, Title: "Reset Settings"},
	}
}

// Commands lists the menu in display order.
func (s *Shell) Commands() []Command {
	return s.commands
}

func (s *Shell) Dispatch(ctx context.Context, name string) error {
	cmd, ok := lo.Find(s.commands, func(c Command) bool { return string(c.Name) == name })
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd.Run(ctx)
}

func (s *Shell) runAuthorize(ctx context.Context) error {
	for _, sess := range s.sessions {
		valid, err := sess.HasValidAccessToken(ctx)
		if err != nil {
			return err
		}
		if valid {
			fmt.Fprintln(s.out, dimStyle.Render(sess.Service()+" is already authorized"))
			continue
		}

		ok, err := s.authorize(ctx, sess.Service())
		if err != nil {
			return fmt.Errorf("authorize %s: %w", sess.Service(), err)
		}
		if !ok {
			fmt.Fprintln(s.out, warnStyle.Render("Denied. "+sess.Service()+" was not authorized"))
			continue
		}
		fmt.Fprintln(s.out, okStyle.Render("Success! "+sess.Service()+" is authorized"))
	}
	return nil
}

func (s *Shell) fetchRange(fromDaysAgo, toDaysAgo int) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := s.fetcher.FetchAndAppend(ctx, fromDaysAgo, toDaysAgo)
		if err != nil {
			return err
		}

		summary := fmt.Sprintf("Appended %d rows from %d chunks", res.Rows, res.Chunks)
		if res.FailedChunks > 0 {
			fmt.Fprintln(s.out, warnStyle.Render(fmt.Sprintf("%s (%d failed, see log)", summary, res.FailedChunks)))
			return nil
		}
		fmt.Fprintln(s.out, okStyle.Render(summary))
		return nil
	}
}

func (s *Shell) runReset(ctx context.Context) error {
	for _, sess := range s.sessions {
		if err := sess.Reset(ctx); err != nil {
			return fmt.Errorf("reset %s: %w", sess.Service(), err)
		}
	}
	fmt.Fprintln(s.out, okStyle.Render("Stored authorization cleared"))
	return nil
}
