package command

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a command set from YAML. JSON is valid YAML, so JSON
// command files load the same way. Every command is compiled to catch
// template errors early.
func Parse(data []byte) (Commands, error) {
	var cmds Commands
	if err := yaml.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("failed to parse command set: %w", err)
	}
	for name, cmd := range cmds {
		if _, err := Compile(cmd); err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}
	}
	return cmds, nil
}

// LoadFile reads a command set from path.
func LoadFile(path string) (Commands, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read command file: %w", err)
	}
	cmds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cmds, nil
}

// Merge combines command sets. Later sets override commands of the same
// name in earlier ones.
func Merge(sets ...Commands) Commands {
	out := Commands{}
	for _, set := range sets {
		for name, cmd := range set {
			out[name] = cmd
		}
	}
	return out
}
