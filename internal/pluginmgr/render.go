package pluginmgr

import (
	"fmt"
	"path"
	texttemplate "text/template"

	"pylon/internal/template"
)

// RenderTemplate loads templates/<name> from an activated plugin's bundle
// and renders it with the plugin's resolved config as context. The "slot"
// function is injected so a template can splice in a slot's concatenated
// callback output.
func (m *Manager) RenderTemplate(owner, name string, extra map[string]interface{}) (string, error) {
	desc, ok := m.GetModule(owner)
	if !ok {
		return "", fmt.Errorf("pluginmgr: plugin %q is not activated", owner)
	}
	src, err := desc.Loader.GetData(path.Join("templates", name))
	if err != nil {
		return "", fmt.Errorf("pluginmgr: reading template %s of %s: %w", name, owner, err)
	}

	context := template.MergeContexts(
		map[string]interface{}{"config": desc.Config},
		extra,
	)
	funcs := texttemplate.FuncMap{
		"slot": func(slot string) string {
			if m.slots == nil {
				return ""
			}
			return m.slots.RunSlot(slot, nil)
		},
	}
	return template.Render(string(src), context, funcs)
}
