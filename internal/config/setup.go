package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxWizardAttempts bounds how often the wizard restarts on invalid input.
const maxWizardAttempts = 3

// RunSetupWizard guides the user through first-time configuration, reading
// answers from in and writing prompts to out, then saves the result.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          rconsole - First Run Setup          ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	for attempt := 1; ; attempt++ {
		askAll(reader, out, cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxWizardAttempts {
			return fmt.Errorf("configuration validation failed")
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) != "yes" {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	return nil
}

func askAll(reader *bufio.Reader, out io.Writer, cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(out, "── Game Server ──")
	cfg.RCON.Host = promptString(reader, out, "RCON host", cfg.RCON.Host)
	cfg.RCON.Port = promptInt(reader, out, "RCON port", cfg.RCON.Port)
	if pw := promptPassword(reader, out, "RCON password (blank keeps current)"); pw != "" {
		cfg.RCON.Password = pw
	}
	cfg.RCON.TimeoutMs = promptInt(reader, out, "Command timeout (ms)", cfg.RCON.TimeoutMs)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Commands ──")
	cfg.Commands.Minecraft = promptBool(reader, out, "Enable built-in Minecraft commands", cfg.Commands.Minecraft)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── REST API ──")
	cfg.API.Address = promptString(reader, out, "Listen address", cfg.API.Address)
	cfg.API.Port = promptInt(reader, out, "Listen port", cfg.API.Port)
	cfg.API.Token = promptString(reader, out, "Bearer token (blank disables auth)", cfg.API.Token)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "Broker port", cfg.MQTT.Port)
	}
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimRight(input, "\r\n")
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
