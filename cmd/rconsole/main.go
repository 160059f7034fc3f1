// rconsole is a Source RCON client: run commands once, open an interactive
// shell, call typed command templates, or serve the connection over a REST
// API with MQTT telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/cli"
	"github.com/energizer-project/rconsole/internal/command"
	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/transport"
	"github.com/energizer-project/rconsole/internal/util"
)

const AppName = "rconsole"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitError      = 1
	exitAuth       = 2
	exitConnection = 3
	exitTemplate   = 4
)

func main() {
	api.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, rcon.ErrInvalidPassword):
		return exitAuth
	case errors.Is(err, rcon.ErrTimeout),
		errors.Is(err, rcon.ErrTCPConnectionOpen),
		errors.Is(err, rcon.ErrTCPConnectionClosed),
		errors.Is(err, rcon.ErrTCPConnection),
		errors.Is(err, rcon.ErrTCPWrite):
		return exitConnection
	case errors.Is(err, command.ErrNoMatch),
		errors.Is(err, command.ErrMissingParam),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrInvalidNumber),
		errors.Is(err, command.ErrInvalidTemplate):
		return exitTemplate
	default:
		return exitError
	}
}

// app holds global flags and the state shared by subcommands.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configDir string
	host      string
	port      int
	password  string
	profile   string
	timeout   time.Duration
	noColor   bool
	raw       bool
	logLevel  string

	cfg *config.Config

	// dialer replaces the TCP dialer when set.
	dialer transport.Dialer
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return config.DefaultConfigDir
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "Source RCON client with typed command templates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configDir, "config", defaultConfigDir(), "configuration directory")
	flags.StringVarP(&a.host, "host", "H", "", "server host (overrides config and profile)")
	flags.IntVarP(&a.port, "port", "P", 0, "server rcon port")
	flags.StringVarP(&a.password, "password", "p", "", "rcon password")
	flags.StringVar(&a.profile, "profile", "", "use a saved connection profile")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-request timeout, e.g. 5s")
	flags.BoolVarP(&a.noColor, "no-color", "c", false, "strip colour codes from replies")
	flags.BoolVarP(&a.raw, "raw", "r", false, "print replies without processing colour codes")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newExecCmd(a),
		newShellCmd(a),
		newCallCmd(a),
		newCommandsCmd(a),
		newServeCmd(a),
		newProfileCmd(a),
		newInitCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration and configures logging.
func (a *app) setup() error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.GetLogging().LogConfig()
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	logCfg.NoColor = a.noColor
	if _, err := util.InitLogger(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func (a *app) printer() *cli.Printer {
	return &cli.Printer{Out: a.out, NoColor: a.noColor, Raw: a.raw}
}

func (a *app) openStore(ctx context.Context) (*db.ProfileStore, error) {
	return db.NewProfileStore(ctx, a.cfg.GetStore().ResolvePath(a.configDir))
}

// options resolves connection options: config file and environment, then
// the selected profile, then command-line flags.
func (a *app) options(ctx context.Context) (rcon.Options, error) {
	opts := a.cfg.GetRCON().Options()

	if a.profile != "" {
		store, err := a.openStore(ctx)
		if err != nil {
			return rcon.Options{}, err
		}
		defer store.Close()

		p, err := store.Get(ctx, a.profile)
		if err != nil {
			return rcon.Options{}, err
		}
		opts.Host, opts.Port, opts.Password = p.Host, p.Port, p.Password
		if p.TimeoutMs > 0 {
			opts.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}
		if err := store.Touch(ctx, a.profile); err != nil {
			log.Warn().Err(err).Str("profile", a.profile).Msg("failed to record profile use")
		}
	}

	if a.host != "" {
		opts.Host = a.host
	}
	if a.port != 0 {
		opts.Port = a.port
	}
	if a.password != "" {
		opts.Password = a.password
	}
	if a.timeout != 0 {
		opts.Timeout = a.timeout
	}
	return opts, nil
}

func (a *app) newClient(ctx context.Context) (*rcon.Client, error) {
	opts, err := a.options(ctx)
	if err != nil {
		return nil, err
	}
	var clientOpts []rcon.ClientOption
	if a.dialer != nil {
		clientOpts = append(clientOpts, rcon.WithDialer(a.dialer))
	}
	return rcon.New(opts, clientOpts...), nil
}

// commandSet loads the configured command templates.
func (a *app) commandSet() (command.Commands, error) {
	cc := a.cfg.GetCommands()

	var sets []command.Commands
	if cc.Minecraft {
		sets = append(sets, command.MinecraftCommands())
	}
	for _, path := range cc.ResolveFiles(a.configDir) {
		cmds, err := command.LoadFile(path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, cmds)
	}
	return command.Merge(sets...), nil
}

func (a *app) newGameClient(exec command.Executor) (*command.GameClient, error) {
	cmds, err := a.commandSet()
	if err != nil {
		return nil, err
	}
	return command.NewGameClient(exec, cmds)
}
