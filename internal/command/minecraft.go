package command

import (
	"context"
	_ "embed"
	"errors"
	"sync"
)

//go:embed minecraft.yaml
var minecraftYAML []byte

var loadMinecraft = sync.OnceValues(func() (Commands, error) {
	return Parse(minecraftYAML)
})

// MinecraftCommands returns the built-in Minecraft command set. Each call
// returns a fresh copy of the top-level map.
func MinecraftCommands() Commands {
	cmds, err := loadMinecraft()
	if err != nil {
		// The file is compiled into the binary; a parse error is a build defect.
		panic(err)
	}
	return Merge(cmds)
}

// PlayerList is the reply to "list".
type PlayerList struct {
	Count   float64  `json:"count"`
	Max     float64  `json:"max"`
	Players []string `json:"players"`
}

// Whitelist is the reply to "whitelist list". An empty whitelist sets
// Total to 0 and leaves Count unset.
type Whitelist struct {
	Count   float64  `json:"count"`
	Total   float64  `json:"total"`
	Players []string `json:"players"`
}

// Status is the reply of commands that only report an outcome, such as
// "player_added" or "whitelist_already_on".
type Status struct {
	Status string `json:"status"`
}

type playerParam struct {
	Player string `json:"player"`
}

// Minecraft is a typed client for a Minecraft server.
type Minecraft struct {
	*GameClient

	list            func(context.Context, struct{}) (*PlayerList, error)
	whitelistOn     func(context.Context, struct{}) (*Status, error)
	whitelistOff    func(context.Context, struct{}) (*Status, error)
	whitelist       func(context.Context, struct{}) (*Whitelist, error)
	whitelistAdd    func(context.Context, playerParam) (*Status, error)
	whitelistRemove func(context.Context, playerParam) (*Status, error)
	whitelistReload func(context.Context, struct{}) (*struct{}, error)
}

// NewMinecraft wraps exec with the built-in Minecraft command set.
func NewMinecraft(exec Executor) (*Minecraft, error) {
	gc, err := NewGameClient(exec, MinecraftCommands())
	if err != nil {
		return nil, err
	}

	m := &Minecraft{GameClient: gc}
	var errs [7]error
	m.list, errs[0] = Bind[struct{}, PlayerList](gc, "list")
	m.whitelistOn, errs[1] = Bind[struct{}, Status](gc, "whitelistOn")
	m.whitelistOff, errs[2] = Bind[struct{}, Status](gc, "whitelistOff")
	m.whitelist, errs[3] = Bind[struct{}, Whitelist](gc, "whitelist")
	m.whitelistAdd, errs[4] = Bind[playerParam, Status](gc, "whitelistAdd")
	m.whitelistRemove, errs[5] = Bind[playerParam, Status](gc, "whitelistRemove")
	m.whitelistReload, errs[6] = Bind[struct{}, struct{}](gc, "whitelistReload")
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the online players.
func (m *Minecraft) List(ctx context.Context) (*PlayerList, error) {
	return m.list(ctx, struct{}{})
}

// WhitelistOn enables the whitelist.
func (m *Minecraft) WhitelistOn(ctx context.Context) (*Status, error) {
	return m.whitelistOn(ctx, struct{}{})
}

// WhitelistOff disables the whitelist.
func (m *Minecraft) WhitelistOff(ctx context.Context) (*Status, error) {
	return m.whitelistOff(ctx, struct{}{})
}

// Whitelist returns the whitelisted players.
func (m *Minecraft) Whitelist(ctx context.Context) (*Whitelist, error) {
	return m.whitelist(ctx, struct{}{})
}

// WhitelistAdd adds player to the whitelist.
func (m *Minecraft) WhitelistAdd(ctx context.Context, player string) (*Status, error) {
	return m.whitelistAdd(ctx, playerParam{Player: player})
}

// WhitelistRemove removes player from the whitelist.
func (m *Minecraft) WhitelistRemove(ctx context.Context, player string) (*Status, error) {
	return m.whitelistRemove(ctx, playerParam{Player: player})
}

// WhitelistReload reloads the whitelist from disk.
func (m *Minecraft) WhitelistReload(ctx context.Context) error {
	_, err := m.whitelistReload(ctx, struct{}{})
	return err
}
