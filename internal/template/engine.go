// Package template implements the variable substitution applied to plugin
// configuration documents and the sprig-backed rendering of plugin template
// files. Config substitution walks a decoded YAML tree and replaces
// "{{ path.to.value }}" references against a lookup context (environment,
// secrets); template rendering is full Go text/template with the sprig
// function map plus host-injected functions such as slot insertion.
package template

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine performs substitution over decoded configuration values.
type Engine struct {
	pattern *regexp.Regexp
}

// New constructs an Engine matching "{{ name }}" and "{{ name.sub.path }}"
// references (a leading dot is tolerated).
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`),
	}
}

// Replace substitutes every variable reference inside value against context,
// recursing through nested maps and slices. Strings without references pass
// through unchanged; non-string leaves are returned as-is. A reference that
// cannot be resolved fails the whole substitution, so a half-expanded
// secret never reaches a plugin.
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, context)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			replaced, err := e.Replace(item, context)
			if err != nil {
				return nil, fmt.Errorf("in %q: %w", key, err)
			}
			out[key] = replaced
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			replaced, err := e.Replace(item, context)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return value, nil
	}
}

// replaceString resolves every reference in s. When the whole string is a
// single reference, the resolved value keeps its original type (so a
// numeric secret stays numeric); otherwise resolved values are spliced in
// as their string form.
func (e *Engine) replaceString(s string, context map[string]interface{}) (interface{}, error) {
	matches := e.pattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && strings.TrimSpace(s) == matches[0][0] {
		return e.resolve(matches[0][1], context)
	}

	result := s
	for _, match := range matches {
		value, err := e.resolve(match[1], context)
		if err != nil {
			return nil, err
		}
		result = strings.Replace(result, match[0], fmt.Sprintf("%v", value), 1)
	}
	return result, nil
}

// resolve walks a dotted reference path through nested maps in context.
func (e *Engine) resolve(path string, context map[string]interface{}) (interface{}, error) {
	parts := strings.Split(path, ".")
	current, ok := context[parts[0]]
	if !ok {
		return nil, fmt.Errorf("template: variable %q is not defined", parts[0])
	}
	for _, part := range parts[1:] {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("template: %q is not a mapping, cannot resolve %q", path, part)
		}
		current, ok = node[part]
		if !ok {
			return nil, fmt.Errorf("template: %q has no entry %q", path, part)
		}
	}
	return current, nil
}

// Vars returns every distinct variable reference inside value, in first-seen
// order. Used to report what a plugin's configuration expects from the
// environment and the secret store.
func (e *Engine) Vars(value interface{}) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			for _, match := range e.pattern.FindAllStringSubmatch(t, -1) {
				if !seen[match[1]] {
					seen[match[1]] = true
					out = append(out, match[1])
				}
			}
		case map[string]interface{}:
			for _, item := range t {
				walk(item)
			}
		case []interface{}:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(value)
	return out
}

// Render executes src as a full Go template with the sprig function map
// plus any host-injected funcs (the module manager injects "slot" so a
// plugin template can splice in a slot's rendered output). Missing context
// keys are errors.
func Render(src string, context map[string]interface{}, funcs template.FuncMap) (string, error) {
	fm := sprig.TxtFuncMap()
	for name, fn := range funcs {
		fm[name] = fn
	}
	tmpl, err := template.New("plugin").Funcs(fm).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("template: invalid template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("template: rendering failed: %w", err)
	}
	return buf.String(), nil
}
