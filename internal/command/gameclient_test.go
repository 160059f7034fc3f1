package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor answers commands from a fixed table and records what it ran.
type stubExecutor struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
	ran     []string
}

func (s *stubExecutor) Exec(_ context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, command)
	if s.err != nil {
		return "", s.err
	}
	return s.replies[command], nil
}

func TestGameClientCall(t *testing.T) {
	exec := &stubExecutor{replies: map[string]string{
		"whitelist add notch": "Added notch to the whitelist",
	}}
	gc, err := NewGameClient(exec, MinecraftCommands())
	require.NoError(t, err)

	got, err := gc.Call(context.Background(), "whitelistAdd", map[string]any{"player": "notch"})
	require.NoError(t, err)
	assert.Equal(t, Result{"status": "player_added"}, got)
	assert.Equal(t, []string{"whitelist add notch"}, exec.ran)
}

func TestGameClientUnknownCommand(t *testing.T) {
	gc, err := NewGameClient(&stubExecutor{}, MinecraftCommands())
	require.NoError(t, err)

	_, err = gc.Call(context.Background(), "ban", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, ok := gc.Method("ban")
	assert.False(t, ok)
}

func TestGameClientMissingParamSkipsExec(t *testing.T) {
	exec := &stubExecutor{}
	gc, err := NewGameClient(exec, MinecraftCommands())
	require.NoError(t, err)

	_, err = gc.Call(context.Background(), "whitelistAdd", nil)
	assert.ErrorIs(t, err, ErrMissingParam)
	assert.Empty(t, exec.ran)
}

func TestGameClientPropagatesExecError(t *testing.T) {
	boom := errors.New("rcon: timed out")
	gc, err := NewGameClient(&stubExecutor{err: boom}, MinecraftCommands())
	require.NoError(t, err)

	_, err = gc.Call(context.Background(), "list", nil)
	assert.ErrorIs(t, err, boom)
}

func TestGameClientNames(t *testing.T) {
	gc, err := NewGameClient(&stubExecutor{}, MinecraftCommands())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"list", "whitelist", "whitelistAdd", "whitelistOff",
		"whitelistOn", "whitelistReload", "whitelistRemove",
	}, gc.Names())

	cmd, ok := gc.Command("list")
	require.True(t, ok)
	assert.Equal(t, "list", cmd.Request.Body)
}

func TestNewGameClientRejectsInvalidCommand(t *testing.T) {
	_, err := NewGameClient(&stubExecutor{}, Commands{"bad": {}})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestBind(t *testing.T) {
	type echoParams struct {
		Greeting float64 `json:"greeting"`
	}
	type echoResult struct {
		Greeting float64 `json:"greeting"`
	}

	exec := &stubExecutor{replies: map[string]string{"echo 2343432205": "2343432205"}}
	gc, err := NewGameClient(exec, Commands{"echo": echoCommand(Number())})
	require.NoError(t, err)

	echo, err := Bind[echoParams, echoResult](gc, "echo")
	require.NoError(t, err)

	got, err := echo(context.Background(), echoParams{Greeting: 0x8badf00d})
	require.NoError(t, err)
	assert.Equal(t, &echoResult{Greeting: 0x8badf00d}, got)

	_, err = Bind[echoParams, echoResult](gc, "missing")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestMinecraft(t *testing.T) {
	exec := &stubExecutor{replies: map[string]string{
		"list":                    "There are 1 of a max of 20 players online: notch",
		"whitelist on":            "Whitelist is already turned on",
		"whitelist off":           "Whitelist is now turned off",
		"whitelist list":          "There are no whitelisted players",
		"whitelist add herobrine": "That player does not exist",
		"whitelist remove notch":  "Removed notch from the whitelist",
		"whitelist reload":        "Reloaded the whitelist",
	}}
	mc, err := NewMinecraft(exec)
	require.NoError(t, err)
	ctx := context.Background()

	list, err := mc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, &PlayerList{Count: 1, Max: 20, Players: []string{"notch"}}, list)

	status, err := mc.WhitelistOn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "whitelist_already_on", status.Status)

	status, err = mc.WhitelistOff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "whitelist_off", status.Status)

	wl, err := mc.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Whitelist{Total: 0, Players: []string{}}, wl)

	status, err = mc.WhitelistAdd(ctx, "herobrine")
	require.NoError(t, err)
	assert.Equal(t, "player_not_found", status.Status)

	status, err = mc.WhitelistRemove(ctx, "notch")
	require.NoError(t, err)
	assert.Equal(t, "player_removed", status.Status)

	require.NoError(t, mc.WhitelistReload(ctx))
}

func TestMinecraftWhitelistWithPlayers(t *testing.T) {
	exec := &stubExecutor{replies: map[string]string{
		"whitelist list": "There are 2 whitelisted player(s): notch, jeb_",
	}}
	mc, err := NewMinecraft(exec)
	require.NoError(t, err)

	wl, err := mc.Whitelist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Whitelist{Count: 2, Players: []string{"notch", "jeb_"}}, wl)
}

func TestMinecraftUnexpectedReply(t *testing.T) {
	exec := &stubExecutor{replies: map[string]string{"list": "Unknown command"}}
	mc, err := NewMinecraft(exec)
	require.NoError(t, err)

	_, err = mc.List(context.Background())
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMinecraftCommandsReturnsCopy(t *testing.T) {
	a := MinecraftCommands()
	delete(a, "list")
	assert.Contains(t, MinecraftCommands(), "list")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "valheim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
save:
  request:
    body: save
  response:
    - body: "World saved in {seconds}s"
      params:
        seconds: {type: number}
`), 0o644))

	cmds, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, cmds, "save")

	got, err := ParseResponse(cmds["save"], "World saved in 0.25s")
	require.NoError(t, err)
	assert.Equal(t, Result{"seconds": 0.25}, got)

	merged := Merge(MinecraftCommands(), cmds)
	assert.Contains(t, merged, "save")
	assert.Contains(t, merged, "list")
}

func TestParseAcceptsJSON(t *testing.T) {
	cmds, err := Parse([]byte(`{"ping":{"request":{"body":"ping"},"response":[{"body":"pong","params":{"ok":{"const":true}}}]}}`))
	require.NoError(t, err)

	got, err := ParseResponse(cmds["ping"], "pong")
	require.NoError(t, err)
	assert.Equal(t, Result{"ok": true}, got)
}

func TestParseRejectsBadFiles(t *testing.T) {
	_, err := Parse([]byte("ping: [not, a, command"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
ping:
  request: {body: ping}
  response:
    - body: "{x}"
      params:
        x: {type: boolean}
`))
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
