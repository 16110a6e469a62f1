package config

import (
	"os"
	"strings"

	"pylon/internal/template"
)

// Substitute expands template variables inside a plugin configuration
// mapping: "{{ env.NAME }}" resolves against the process environment and
// "{{ secret.NAME }}" against the settings' secret store. Values without
// templates pass through untouched. Unresolvable variables fail the whole
// substitution so a half-expanded secret never reaches a plugin.
func Substitute(data map[string]interface{}, secrets map[string]string) (map[string]interface{}, error) {
	engine := template.New()
	ctx := substitutionContext(secrets)
	replaced, err := engine.Replace(data, ctx)
	if err != nil {
		return nil, err
	}
	out, ok := replaced.(map[string]interface{})
	if !ok {
		return data, nil
	}
	return out, nil
}

func substitutionContext(secrets map[string]string) map[string]interface{} {
	env := make(map[string]interface{})
	for _, kv := range os.Environ() {
		k, v, found := strings.Cut(kv, "=")
		if found {
			env[k] = v
		}
	}
	secret := make(map[string]interface{}, len(secrets))
	for k, v := range secrets {
		secret[k] = v
	}
	return map[string]interface{}{
		"env":    env,
		"secret": secret,
	}
}
