// Package cli implements rconsole's terminal front end: one-shot command
// runs, the interactive shell, and table output.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconsole/internal/command"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/rcon"
)

// Client is the part of *rcon.Client the CLI needs.
type Client interface {
	Exec(ctx context.Context, command string) (string, error)
	Stats() rcon.Stats
	State() events.ConnectionState
	Options() rcon.Options
}

// Printer writes command output.
type Printer struct {
	Out io.Writer
	// NoColor strips Minecraft formatting codes instead of converting them.
	NoColor bool
	// Raw prints replies untouched.
	Raw bool
}

// Response prints a server reply followed by a newline.
func (p *Printer) Response(text string) {
	if text == "" {
		return
	}
	switch {
	case p.Raw:
	case p.NoColor:
		text = StripColorCodes(text)
	default:
		text = ConvertColorCodes(text)
	}
	fmt.Fprint(p.Out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(p.Out)
	}
}

// Result prints a parsed template result as indented JSON.
func (p *Printer) Result(res command.Result) error {
	if res == nil {
		fmt.Fprintln(p.Out, "ok")
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(p.Out, string(data))
	return nil
}

func (p *Printer) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(p.Out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// Stats prints the connection state of client.
func (p *Printer) Stats(client Client) {
	stats := client.Stats()

	latency, at := "-", "-"
	if !stats.LastResponseAt.IsZero() {
		latency = stats.LastResponseLatency.Round(time.Microsecond).String()
		at = stats.LastResponseAt.Format(time.RFC3339)
	}

	tw := p.table([]string{"Address", "State", "Connected", "Last Latency", "Last Response"})
	tw.Append([]string{
		client.Options().Address(),
		client.State().String(),
		fmt.Sprintf("%v", stats.IsConnected),
		latency,
		at,
	})
	tw.Render()
}

// Commands prints the commands of games.
func (p *Printer) Commands(games *command.GameClient) {
	tw := p.table([]string{"Name", "Request", "Params", "Description"})
	for _, name := range games.Names() {
		cmd, _ := games.Command(name)
		tw.Append([]string{name, cmd.Request.Body, paramList(cmd.Request.Params), cmd.Description})
	}
	tw.Render()
}

// Profiles prints stored connection profiles. Passwords are never shown.
func (p *Printer) Profiles(profiles []db.Profile) {
	tw := p.table([]string{"Name", "Address", "Timeout", "Last Used", "Description"})
	for _, prof := range profiles {
		timeout := "default"
		if prof.TimeoutMs > 0 {
			timeout = (time.Duration(prof.TimeoutMs) * time.Millisecond).String()
		}
		lastUsed := "never"
		if prof.LastUsedAt != nil {
			lastUsed = prof.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		tw.Append([]string{prof.Name, prof.Options().Address(), timeout, lastUsed, prof.Description})
	}
	tw.Render()
}

func paramList(params command.Params) string {
	names := make([]string, 0, len(params))
	for name, def := range params {
		kind := def.Type
		if def.IsConst {
			kind = "const"
		}
		names = append(names, name+":"+kind)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
