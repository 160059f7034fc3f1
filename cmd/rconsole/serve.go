package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/health"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/telemetry"
	"github.com/energizer-project/rconsole/internal/util"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the connection over the REST API and publish MQTT telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	validation := config.Validate(a.cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() && a.profile == "" && a.password == "" {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration is invalid, run '%s init' or fix %s", AppName, a.cfg.Path())
	}

	info := util.GetHostInfo()
	log.Info().
		Str("version", version).
		Str("hostname", info.Hostname).
		Str("os", info.OS).
		Int("cores", info.CPUCores).
		Msg("starting rconsole server")

	client, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	games, err := a.newGameClient(client)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// Telemetry subscribes before the first connect so the initial status is
	// published.
	if mqttCfg := a.cfg.GetMQTT(); mqttCfg.Enabled {
		handler, err := telemetry.NewMQTTHandler(mqttCfg, client.EventBus())
		if err == nil {
			err = handler.Connect()
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to start MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handler.Run(ctx)
			}()
		}
	}

	unobserve := client.ObserveStats(func(s rcon.Stats) {
		log.Debug().
			Bool("connected", s.IsConnected).
			Dur("latency", s.LastResponseLatency).
			Msg("rcon stats")
	})
	defer unobserve()

	// The first connect is best effort; Exec reconnects on demand.
	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("addr", client.Options().Address()).Msg("initial rcon connect failed, will retry on first request")
	}

	apiServer := api.NewServer(a.cfg.GetAPI(), client, games)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	healthMgr := health.NewManager(a.cfg.GetHealth(), client, client.EventBus())
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	client.EventBus().EmitSync(context.Background(), events.Event{Type: events.EventShutdown, Source: AppName})
	cancel()
	wg.Wait()
	log.Info().Msg("rconsole server stopped")
	return runErr
}
