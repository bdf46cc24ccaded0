// Package console is an interactive terminal approver. It prints approval
// messages as they arrive and lets the operator decide them, inspect the
// connection URL and rotate the connection key.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"

	"steward/internal/approval"
	"steward/internal/clock"
	"steward/internal/formatting"
)

const prompt = "steward> "

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// Channel is the part of the approval channel the console drives.
type Channel interface {
	List() []approval.Message
	Get(id string) (approval.Message, bool)
	Decide(id string, status approval.Status, feedback string) (approval.Message, bool, error)
	OnMessage(func(approval.Message))
	Clients() int
}

// Keys is the part of the connection-key manager the console drives.
type Keys interface {
	URL(port int) string
	ExpiresAt() time.Time
	Regenerate() (string, error)
}

// Console reads commands from a terminal.
type Console struct {
	channel Channel
	keys    Keys
	port    func() int
	clock   clock.Clock

	historyFile string

	mu  sync.Mutex
	out io.Writer
	rl  *readline.Instance
}

// Option configures a Console.
type Option func(*Console)

// WithHistoryFile keeps command history in path. History includes decision
// feedback, so the file is created owner-only. Without it nothing is kept.
func WithHistoryFile(path string) Option {
	return func(c *Console) {
		c.historyFile = path
	}
}

// New creates a console. port reports the channel's bound port.
func New(channel Channel, keys Keys, port func() int, out io.Writer, opts ...Option) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{
		channel: channel,
		keys:    keys,
		port:    port,
		clock:   clock.Real{},
		out:     out,
	}
	for _, opt := range opts {
		opt(c)
	}
	channel.OnMessage(c.announce)
	return c
}

// prepareHistory creates the history file with owner-only permissions before
// readline opens it.
func prepareHistory(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}

// Run reads commands until quit, EOF or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	if c.historyFile != "" {
		if err := prepareHistory(c.historyFile); err != nil {
			return err
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     c.historyFile,
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdout:          c.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	c.mu.Lock()
	c.rl = rl
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.rl = nil
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	c.printf("Approval console ready. Type 'help' for commands.\n")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		if err := c.Execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			c.printf("%s %v\n", text.FgRed.Sprint("error:"), err)
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "list", "ls":
		c.list()
	case "show":
		if len(args) != 1 {
			return errors.New("usage: show <id>")
		}
		return c.show(args[0])
	case "approve", "a":
		return c.decide(approval.StatusApproved, args)
	case "reject", "r":
		return c.decide(approval.StatusRejected, args)
	case "key":
		c.printf("Connection URL: %s\nExpires: %s\n", c.keys.URL(c.port()), c.keys.ExpiresAt().Format(time.RFC3339))
	case "rotate":
		if _, err := c.keys.Regenerate(); err != nil {
			return fmt.Errorf("failed to rotate key: %w", err)
		}
		c.printf("Key rotated, connected clients were disconnected.\nConnection URL: %s\n", c.keys.URL(c.port()))
	case "help", "?":
		c.help()
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func (c *Console) list() {
	messages := c.channel.List()
	if len(messages) == 0 {
		c.withOutput(func(w io.Writer) { formatting.Empty(w, "No messages") })
		return
	}
	now := c.clock.Now()
	c.withOutput(func(w io.Writer) {
		t := formatting.NewTable(w, "ID", "STATUS", "RISK", "TITLE", "RECEIVED")
		for _, m := range messages {
			t.AppendRow([]any{m.ID, statusText(m.Status), m.RiskLevel, formatting.Truncate(m.Title, 48), formatting.Since(m.Timestamp.Time(), now)})
		}
		t.Render()
	})
}

func (c *Console) show(id string) error {
	m, ok := c.channel.Get(id)
	if !ok {
		return fmt.Errorf("no message %q", id)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", text.Bold.Sprint(m.Title), statusText(m.Status))
	fmt.Fprintf(&b, "id: %s  sender: %s  risk: %s  requires response: %t\n", m.ID, orDash(m.Sender), orDash(m.RiskLevel), m.RequiresResponse)
	if m.Body != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Body)
	}
	if m.Explanation != "" {
		fmt.Fprintf(&b, "\nExplanation:\n%s\n", m.Explanation)
	}
	if m.Code != "" {
		fmt.Fprintf(&b, "\nCode:\n%s\n", m.Code)
	}
	if m.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback: %s\n", m.Feedback)
	}
	c.printf("%s", b.String())
	return nil
}

func (c *Console) decide(status approval.Status, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s <id> [feedback]", verb(status))
	}
	id, feedback := args[0], strings.Join(args[1:], " ")
	msg, ok, err := c.channel.Decide(id, status, feedback)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no message %q", id)
	}
	c.printf("%s %s\n", statusText(msg.Status), msg.ID)
	return nil
}

func (c *Console) help() {
	c.printf(`Commands:
  list                     list messages
  show <id>                show one message
  approve <id> [feedback]  approve a message
  reject <id> [feedback]   reject a message
  key                      print the connection URL
  rotate                   regenerate the connection key
  help                     this help
  quit                     leave the console
`)
}

// announce prints a newly received message above the prompt.
func (c *Console) announce(m approval.Message) {
	marker := ""
	if m.RequiresResponse {
		marker = text.FgYellow.Sprint(" (awaiting decision)")
	}
	c.printf("%s %s %q%s\n", text.FgHiBlue.Sprint("new message"), m.ID, m.Title, marker)
}

func (c *Console) completer() *readline.PrefixCompleter {
	ids := readline.PcItemDynamic(func(string) []string {
		var ids []string
		for _, m := range c.channel.List() {
			ids = append(ids, m.ID)
		}
		return ids
	})
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("show", ids),
		readline.PcItem("approve", ids),
		readline.PcItem("reject", ids),
		readline.PcItem("key"),
		readline.PcItem("rotate"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func (c *Console) printf(format string, args ...any) {
	c.withOutput(func(w io.Writer) { fmt.Fprintf(w, format, args...) })
}

// withOutput writes through readline while a prompt is active so output
// does not garble the input line.
func (c *Console) withOutput(fn func(io.Writer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rl != nil {
		fn(c.rl.Stdout())
		return
	}
	fn(c.out)
}

func statusText(s approval.Status) string {
	switch s {
	case approval.StatusApproved:
		return text.FgGreen.Sprint(string(s))
	case approval.StatusRejected:
		return text.FgRed.Sprint(string(s))
	default:
		return text.FgYellow.Sprint(string(s))
	}
}

func verb(s approval.Status) string {
	if s == approval.StatusApproved {
		return "approve"
	}
	return "reject"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
