package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/command"
	"github.com/energizer-project/rconsole/internal/util"
)

// LineReader reads one line of input at a time. *readline.Instance
// satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Shell is the interactive prompt. Lines starting with ':' are shell
// commands; everything else is sent to the server.
type Shell struct {
	client  Client
	games   *command.GameClient
	printer *Printer
	reader  LineReader
	logger  zerolog.Logger
}

// NewShell creates a shell that reads from a readline terminal. games may
// be nil.
func NewShell(client Client, games *command.GameClient, p *Printer) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    completer(games),
		InterruptPrompt: "^C",
		EOFPrompt:       "",
		Stdout:          p.Out,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize line editor: %w", err)
	}
	return newShell(client, games, p, rl), nil
}

func newShell(client Client, games *command.GameClient, p *Printer, reader LineReader) *Shell {
	return &Shell{
		client:  client,
		games:   games,
		printer: p,
		reader:  reader,
		logger:  util.ComponentLogger("cli"),
	}
}

func completer(games *command.GameClient) *readline.PrefixCompleter {
	var names []readline.PrefixCompleterInterface
	if games != nil {
		for _, name := range games.Names() {
			names = append(names, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(":help"),
		readline.PcItem(":stats"),
		readline.PcItem(":commands"),
		readline.PcItem(":call", names...),
		readline.PcItem(":quit"),
	)
}

// Run reads and executes lines until the user quits, input ends, or ctx is
// cancelled. "Q" quits; "stop" is sent to the server and then ends the
// session since the server goes away.
func (s *Shell) Run(ctx context.Context) error {
	defer s.reader.Close()

	out := s.printer.Out
	fmt.Fprintln(out, "Logged in.")
	fmt.Fprintln(out, "Type 'Q' or press Ctrl-D to disconnect, ':help' for shell commands.")

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "q") {
			return nil
		}

		if strings.HasPrefix(line, ":") {
			quit, err := s.meta(ctx, line[1:])
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := s.client.Exec(ctx, line)
		if err != nil {
			s.logger.Debug().Err(err).Str("command", line).Msg("command failed")
			fmt.Fprintf(out, "Error: %v\n", err)
		} else {
			s.printer.Response(reply)
		}

		if strings.EqualFold(line, "stop") {
			return nil
		}
	}
}

// meta runs a shell command and reports whether the shell should exit.
func (s *Shell) meta(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, fmt.Errorf("empty shell command, try :help")
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "q", "exit":
		return true, nil
	case "help", "h", "?":
		s.printHelp()
	case "stats":
		s.printer.Stats(s.client)
	case "commands":
		if s.games == nil {
			return false, fmt.Errorf("no command templates loaded")
		}
		s.printer.Commands(s.games)
	case "call":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: :call <name> [key=value ...]")
		}
		if s.games == nil {
			return false, fmt.Errorf("no command templates loaded")
		}
		params, err := ParseParams(fields[2:])
		if err != nil {
			return false, err
		}
		res, err := s.games.Call(ctx, fields[1], params)
		if err != nil {
			return false, err
		}
		return false, s.printer.Result(res)
	default:
		return false, fmt.Errorf("unknown shell command %q, try :help", fields[0])
	}
	return false, nil
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.printer.Out, `Shell commands:
  :stats                       show connection state and last latency
  :commands                    list command templates
  :call <name> [key=value ...] run a command template
  :quit                        disconnect (also Q or Ctrl-D)
Anything else is sent to the server as is.`)
}

// ParseParams turns key=value arguments into template params. Values that
// parse as JSON keep their JSON type, so count=5 is a number; anything else
// is a string.
func ParseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}
