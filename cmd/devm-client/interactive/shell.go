// Package interactive provides the readline shell of devm-client.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/devm-project/devm-go/pkg/client"
	"github.com/devm-project/devm-go/pkg/wire"
)

// errUsage makes the shell print the command's usage line.
var errUsage = errors.New("usage")

type command struct {
	usage string
	help  string
	run   func(s *Shell, args []string) error
}

var (
	okColor    = color.New(color.FgGreen)
	errColor   = color.New(color.FgRed)
	eventColor = color.New(color.FgCyan)
	authColor  = color.New(color.FgYellow)
)

// Shell is an interactive session on one daemon connection.
type Shell struct {
	client *client.Client
	ctx    context.Context
	rl     *readline.Instance
	out    io.Writer

	// callbackID is registered at start and owns everything the shell
	// creates: records, jobs, the authentication handler.
	callbackID uint32

	mu      sync.Mutex
	pending map[wire.BDAddr]wire.AuthAction
}

// New creates a shell and registers its event callback.
func New(ctx context.Context, c *client.Client) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devm> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(ctx, c, rl.Stdout())
	s.rl = rl
	if err := s.register(); err != nil {
		rl.Close()
		return nil, err
	}
	return s, nil
}

func newShell(ctx context.Context, c *client.Client, out io.Writer) *Shell {
	return &Shell{
		client:  c,
		ctx:     ctx,
		out:     out,
		pending: make(map[wire.BDAddr]wire.AuthAction),
	}
}

func (s *Shell) register() error {
	id, err := s.client.RegisterEventCallback(s.ctx, s.handleEvent)
	if err != nil {
		return fmt.Errorf("register event callback: %w", err)
	}
	s.callbackID = id
	return nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer { return s.rl.Stdout() }

// Stderr returns a writer that coordinates with the prompt.
func (s *Shell) Stderr() io.Writer { return s.rl.Stderr() }

// Run reads commands until quit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	fmt.Fprintf(s.out, "Connected, callback %d. Type 'help' for commands.\n", s.callbackID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
		if s.Execute(line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one input line and reports whether the shell should exit.
func (s *Shell) Execute(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		s.printHelp()
		return false
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", name)
		return false
	}
	err := cmd.run(s, args)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintf(s.out, "Usage: %s %s\n", name, cmd.usage)
	default:
		s.fail(err)
	}
	return false
}

func (s *Shell) ok(format string, args ...any) {
	okColor.Fprintf(s.out, format+"\n", args...)
}

func (s *Shell) fail(err error) {
	var st wire.Status
	if errors.As(err, &st) {
		errColor.Fprintf(s.out, "Failed: %s\n", st)
		return
	}
	errColor.Fprintf(s.out, "Error: %v\n", err)
}

func (s *Shell) handleEvent(ev wire.Event) {
	if req, ok := ev.Body.(*wire.AuthenticationRequestEvent); ok {
		s.mu.Lock()
		s.pending[req.Info.Address] = req.Info.Action
		s.mu.Unlock()
		authColor.Fprintf(s.out, "[auth] %s\n", formatAuthRequest(&req.Info))
		return
	}
	eventColor.Fprintf(s.out, "[event] %s\n", formatEvent(ev))
}

// takePending returns the outstanding request for addr, if any.
func (s *Shell) takePending(addr wire.BDAddr) (wire.AuthAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[addr]
	delete(s.pending, addr)
	return a, ok
}

func (s *Shell) printHelp() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(s.out, "\nDEVM Client Commands:")
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(s.out, "  %-38s - %s\n", strings.TrimSpace(name+" "+cmd.usage), cmd.help)
	}
	fmt.Fprintf(s.out, "  %-38s - %s\n", "help", "Show this help")
	fmt.Fprintf(s.out, "  %-38s - %s\n\n", "quit", "Exit the shell")
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands)+2)
	for name := range commands {
		items = append(items, readline.PcItem(name))
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("quit"))
	return readline.NewPrefixCompleter(items...)
}
