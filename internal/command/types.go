// Package command turns raw RCON text into typed calls. A Command pairs a
// request template such as "whitelist add {player}" with the response
// templates a server may answer with; placeholders in a response become typed
// fields of the parsed result.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoMatch         = errors.New("command: response matched no template")
	ErrMissingParam    = errors.New("command: missing parameter")
	ErrInvalidNumber   = errors.New("command: invalid number")
	ErrUnknownCommand  = errors.New("command: unknown command")
	ErrInvalidTemplate = errors.New("command: invalid template")
)

// Type tags accepted in TypeDefinition.Type.
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeArray  = "array"
)

// TypeDefinition describes how a placeholder is converted. It is either a
// constant (IsConst set, Const holds the value) or one of the type tags.
type TypeDefinition struct {
	Type    string
	Items   *TypeDefinition
	Const   any
	IsConst bool
}

// String returns a string definition.
func String() TypeDefinition { return TypeDefinition{Type: TypeString} }

// Number returns a number definition.
func Number() TypeDefinition { return TypeDefinition{Type: TypeNumber} }

// Array returns an array definition whose elements are converted with items.
func Array(items TypeDefinition) TypeDefinition {
	return TypeDefinition{Type: TypeArray, Items: &items}
}

// Const returns a definition that always yields v.
func Const(v any) TypeDefinition { return TypeDefinition{Const: v, IsConst: true} }

// Validate checks the type tag and, for arrays, the item definition.
func (d TypeDefinition) Validate() error {
	if d.IsConst {
		return nil
	}
	switch d.Type {
	case TypeString, TypeNumber:
		return nil
	case TypeArray:
		if d.Items == nil {
			return fmt.Errorf("%w: array without items", ErrInvalidTemplate)
		}
		return d.Items.Validate()
	case "":
		return fmt.Errorf("%w: definition needs a type or a const", ErrInvalidTemplate)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTemplate, d.Type)
	}
}

// UnmarshalYAML accepts {const: v}, {type: string|number} and
// {type: array, items: ...}.
func (d *TypeDefinition) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type  string          `yaml:"type"`
		Items *TypeDefinition `yaml:"items"`
		Const yaml.Node       `yaml:"const"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*d = TypeDefinition{Type: raw.Type, Items: raw.Items}
	if raw.Const.Kind != 0 {
		var v any
		if err := raw.Const.Decode(&v); err != nil {
			return fmt.Errorf("failed to decode const: %w", err)
		}
		d.Const = v
		d.IsConst = true
	}
	return nil
}

// UnmarshalJSON is the JSON counterpart of UnmarshalYAML.
func (d *TypeDefinition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  string          `json:"type"`
		Items *TypeDefinition `json:"items"`
		Const json.RawMessage `json:"const"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = TypeDefinition{Type: raw.Type, Items: raw.Items}
	if len(raw.Const) > 0 {
		var v any
		if err := json.Unmarshal(raw.Const, &v); err != nil {
			return fmt.Errorf("failed to decode const: %w", err)
		}
		d.Const = v
		d.IsConst = true
	}
	return nil
}

// MarshalJSON writes the same shape UnmarshalJSON reads.
func (d TypeDefinition) MarshalJSON() ([]byte, error) {
	if d.IsConst {
		return json.Marshal(map[string]any{"const": d.Const})
	}
	out := map[string]any{"type": d.Type}
	if d.Items != nil {
		out["items"] = d.Items
	}
	return json.Marshal(out)
}

// Params maps placeholder names to their definitions.
type Params map[string]TypeDefinition

// Request is the template used to build the command text.
type Request struct {
	Body   string `yaml:"body" json:"body"`
	Params Params `yaml:"params,omitempty" json:"params,omitempty"`
}

// Response is one possible shape of the server's reply.
type Response struct {
	Body   string `yaml:"body" json:"body"`
	Params Params `yaml:"params,omitempty" json:"params,omitempty"`
}

// Command is a request template and the replies it may produce, in the
// order they are tried.
type Command struct {
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Request     Request    `yaml:"request" json:"request"`
	Response    []Response `yaml:"response" json:"response"`
}

// Commands is a named command set.
type Commands map[string]Command

// Result holds the converted fields of a parsed reply.
type Result map[string]any
