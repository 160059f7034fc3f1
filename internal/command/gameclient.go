package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Executor runs a raw command. *rcon.Client satisfies it.
type Executor interface {
	Exec(ctx context.Context, command string) (string, error)
}

// Method runs one command of a GameClient.
type Method func(ctx context.Context, params map[string]any) (Result, error)

// GameClient exposes a command set as named methods over an Executor.
type GameClient struct {
	exec      Executor
	templates map[string]*Template
	methods   map[string]Method
	logger    zerolog.Logger
}

// NewGameClient compiles cmds and builds one method per command.
func NewGameClient(exec Executor, cmds Commands) (*GameClient, error) {
	gc := &GameClient{
		exec:      exec,
		templates: make(map[string]*Template, len(cmds)),
		methods:   make(map[string]Method, len(cmds)),
		logger:    log.With().Str("component", "command").Logger(),
	}

	for name, cmd := range cmds {
		t, err := Compile(cmd)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}
		gc.templates[name] = t
		gc.methods[name] = gc.method(name, t)
	}
	return gc, nil
}

func (gc *GameClient) method(name string, t *Template) Method {
	return func(ctx context.Context, params map[string]any) (Result, error) {
		req, err := t.BuildRequest(params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		start := time.Now()
		raw, err := gc.exec.Exec(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		res, err := t.ParseResponse(raw)
		gc.logger.Debug().
			Str("command", name).
			Str("request", req).
			Dur("duration", time.Since(start)).
			Bool("matched", err == nil).
			Msg("game command executed")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return res, nil
	}
}

// Call runs the named command.
func (gc *GameClient) Call(ctx context.Context, name string, params map[string]any) (Result, error) {
	m, ok := gc.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return m(ctx, params)
}

// Method returns the named method.
func (gc *GameClient) Method(name string) (Method, bool) {
	m, ok := gc.methods[name]
	return m, ok
}

// Command returns the definition of the named command.
func (gc *GameClient) Command(name string) (Command, bool) {
	t, ok := gc.templates[name]
	if !ok {
		return Command{}, false
	}
	return t.Command(), true
}

// Names returns the command names in sorted order.
func (gc *GameClient) Names() []string {
	names := make([]string, 0, len(gc.methods))
	for name := range gc.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind turns the named method into a typed function. P is encoded to the
// parameter map and the result decoded into R through their JSON tags. A
// reply matching a template without params yields (nil, nil).
func Bind[P, R any](gc *GameClient, name string) (func(ctx context.Context, params P) (*R, error), error) {
	m, ok := gc.Method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	return func(ctx context.Context, params P) (*R, error) {
		args, err := toMap(params)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode params: %w", name, err)
		}

		res, err := m(ctx, args)
		if err != nil || res == nil {
			return nil, err
		}

		data, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode result: %w", name, err)
		}
		out := new(R)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%s: failed to decode result: %w", name, err)
		}
		return out, nil
	}, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
