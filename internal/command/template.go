package command

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholder matches {name} in request and response bodies.
var placeholder = regexp.MustCompile(`\{.+?\}`)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkPlaceholders rejects placeholders whose name is not an identifier.
func checkPlaceholders(body string) error {
	for _, m := range placeholder.FindAllString(body, -1) {
		if name := m[1 : len(m)-1]; !placeholderName.MatchString(name) {
			return fmt.Errorf("%w: bad placeholder name %q", ErrInvalidTemplate, name)
		}
	}
	return nil
}

// BuildRequest substitutes every {name} in the request body with the
// string form of params[name]. Values are inserted verbatim.
func BuildRequest(cmd Command, params map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(cmd.Request.Body, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return stringify(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(missing, ", "))
	}
	return out, nil
}

// stringify renders v the way it should appear in a command line. Numbers
// never use exponent notation.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// compiledResponse is a response template turned into an anchored regexp.
// groups[i] is the placeholder name captured by submatch i+1.
type compiledResponse struct {
	re     *regexp.Regexp
	groups []string
	params Params
}

// Template is a compiled Command. It is safe for concurrent use.
type Template struct {
	cmd       Command
	responses []compiledResponse
}

// Compile validates cmd and compiles its response templates.
func Compile(cmd Command) (*Template, error) {
	if cmd.Request.Body == "" {
		return nil, fmt.Errorf("%w: empty request body", ErrInvalidTemplate)
	}
	if err := checkPlaceholders(cmd.Request.Body); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	for name, def := range cmd.Request.Params {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("request param %q: %w", name, err)
		}
	}

	t := &Template{cmd: cmd, responses: make([]compiledResponse, 0, len(cmd.Response))}
	for i, resp := range cmd.Response {
		if err := checkPlaceholders(resp.Body); err != nil {
			return nil, fmt.Errorf("response %d: %w", i, err)
		}
		for name, def := range resp.Params {
			if err := def.Validate(); err != nil {
				return nil, fmt.Errorf("response %d param %q: %w", i, name, err)
			}
		}
		compiled, err := compileResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("response %d: %w", i, err)
		}
		t.responses = append(t.responses, compiled)
	}
	return t, nil
}

// compileResponse escapes the literal parts of resp.Body and turns each
// placeholder into a lazy capture group. Dot matches newlines so multi-line
// replies are captured whole.
func compileResponse(resp Response) (compiledResponse, error) {
	var pattern strings.Builder
	pattern.WriteString(`(?s)^`)

	var groups []string
	last := 0
	for _, loc := range placeholder.FindAllStringIndex(resp.Body, -1) {
		pattern.WriteString(regexp.QuoteMeta(resp.Body[last:loc[0]]))
		pattern.WriteString(`(.*?)`)
		groups = append(groups, resp.Body[loc[0]+1:loc[1]-1])
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(resp.Body[last:]))
	pattern.WriteString(`$`)

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return compiledResponse{}, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return compiledResponse{re: re, groups: groups, params: resp.Params}, nil
}

// Command returns the command t was compiled from.
func (t *Template) Command() Command {
	return t.cmd
}

// BuildRequest is BuildRequest for the compiled command.
func (t *Template) BuildRequest(params map[string]any) (string, error) {
	return BuildRequest(t.cmd, params)
}

// ParseResponse matches raw against the response templates in order and
// converts the captures of the first match.
//
// A match on a template that declares no params returns (nil, nil), while
// an explicitly empty params map yields an empty Result. No match returns
// ErrNoMatch.
func (t *Template) ParseResponse(raw string) (Result, error) {
	for _, resp := range t.responses {
		m := resp.re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if resp.params == nil {
			return nil, nil
		}

		captures := make(map[string]string, len(resp.groups))
		for i, name := range resp.groups {
			if _, seen := captures[name]; !seen {
				captures[name] = m[i+1]
			}
		}

		result := make(Result, len(resp.params))
		for name, def := range resp.params {
			v, err := convert(captures[name], def)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", name, err)
			}
			result[name] = v
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoMatch, truncate(raw, 80))
}

// ParseResponse compiles cmd and parses raw with it.
func ParseResponse(cmd Command, raw string) (Result, error) {
	t, err := Compile(cmd)
	if err != nil {
		return nil, err
	}
	return t.ParseResponse(raw)
}

// convert turns a captured string into the value def describes.
func convert(raw string, def TypeDefinition) (any, error) {
	if def.IsConst {
		return def.Const, nil
	}

	switch def.Type {
	case TypeString:
		return strings.TrimSpace(raw), nil
	case TypeNumber:
		s := strings.TrimSpace(raw)
		if s == "" {
			return float64(0), nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		return n, nil
	case TypeArray:
		if raw == "" {
			return []any{}, nil
		}
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := convert(p, *def.Items)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTemplate, def.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
