// Package health runs periodic checks while rconsole serves a connection:
// an RCON round trip that keeps the connection and its stats fresh, and a
// host load sample. Results are emitted on the event bus.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// Check names reported in events.HealthPayload.
const (
	CheckRCON = "rcon"
	CheckHost = "host"
)

// Pinger runs one command. *rcon.Client satisfies it.
type Pinger interface {
	Exec(ctx context.Context, command string) (string, error)
}

// Manager runs the configured checks on their own tickers.
type Manager struct {
	cfg      config.HealthConfig
	client   Pinger
	eventBus *events.EventBus
	logger   zerolog.Logger

	// sampleHost reads host load; tests replace it.
	sampleHost func(ctx context.Context) (events.HealthPayload, error)

	mu       sync.Mutex
	failures int
}

// NewManager creates a health check manager.
func NewManager(cfg config.HealthConfig, client Pinger, eventBus *events.EventBus) *Manager {
	m := &Manager{
		cfg:      cfg,
		client:   client,
		eventBus: eventBus,
		logger:   util.ComponentLogger("health"),
	}
	m.sampleHost = m.readHost
	return m
}

// Start launches all checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{CheckRCON, m.cfg.PingIntervalSec, m.checkRCON},
		{CheckHost, m.cfg.HostIntervalSec, m.checkHost},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, check.name, time.Duration(check.interval)*time.Second, check.fn)
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	wg.Wait()
	m.logger.Info().Msg("health check manager stopped")
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Debug().Str("check", name).Msg("running initial health check")
	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// checkRCON sends the ping command. A failure is logged once until the
// next success.
func (m *Manager) checkRCON(ctx context.Context) {
	start := time.Now()
	_, err := m.client.Exec(ctx, m.cfg.PingCommand)
	if ctx.Err() != nil {
		return
	}

	payload := events.HealthPayload{
		Check:     CheckRCON,
		OK:        err == nil,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}

	m.mu.Lock()
	previous := m.failures
	if err != nil {
		m.failures++
	} else {
		m.failures = 0
	}
	failures := m.failures
	m.mu.Unlock()

	switch {
	case err != nil:
		payload.Error = err.Error()
		if previous == 0 {
			m.logger.Warn().Err(err).Msg("rcon health check failed")
		} else {
			m.logger.Debug().Err(err).Int("consecutive", failures).Msg("rcon health check still failing")
		}
	case previous > 0:
		m.logger.Info().Int("failed_checks", previous).Msg("rcon health check recovered")
	}

	m.emit(ctx, payload)
}

// checkHost samples CPU, memory and disk usage.
func (m *Manager) checkHost(ctx context.Context) {
	payload, err := m.sampleHost(ctx)
	if ctx.Err() != nil {
		return
	}
	payload.Check = CheckHost
	payload.CheckedAt = time.Now()
	payload.OK = err == nil
	if err != nil {
		payload.Error = err.Error()
		m.logger.Warn().Err(err).Msg("host health check failed")
	}
	m.emit(ctx, payload)
}

func (m *Manager) readHost(ctx context.Context) (events.HealthPayload, error) {
	var payload events.HealthPayload

	percent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return payload, err
	}
	if len(percent) > 0 {
		payload.CPUPercent = percent[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return payload, err
	}
	payload.MemoryPercent = vm.UsedPercent

	if m.cfg.DiskPath != "" {
		usage, err := disk.UsageWithContext(ctx, m.cfg.DiskPath)
		if err != nil {
			return payload, err
		}
		payload.DiskPercent = usage.UsedPercent
	}
	return payload, nil
}

func (m *Manager) emit(ctx context.Context, payload events.HealthPayload) {
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHealth,
		Source:  "health",
		Payload: payload,
	})
}

// Failures returns the number of consecutive failed RCON checks.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}
