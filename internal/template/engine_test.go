package template

import (
	"testing"
	texttemplate "text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplace_NestedPathsAndTypePreservation(t *testing.T) {
	e := New()
	context := map[string]interface{}{
		"env":    map[string]interface{}{"HOST": "db.internal"},
		"secret": map[string]interface{}{"port": 5432},
	}
	out, err := e.Replace(map[string]interface{}{
		"host":  "{{ env.HOST }}",
		"port":  "{{ secret.port }}",
		"url":   "postgres://{{ env.HOST }}:{{ secret.port }}/pylon",
		"debug": true,
	}, context)
	require.NoError(t, err)

	m := out.(map[string]interface{})
	assert.Equal(t, "db.internal", m["host"])
	assert.Equal(t, 5432, m["port"], "a whole-string reference keeps its type")
	assert.Equal(t, "postgres://db.internal:5432/pylon", m["url"])
	assert.Equal(t, true, m["debug"])
}

func TestReplace_UndefinedVariableFails(t *testing.T) {
	e := New()
	_, err := e.Replace(map[string]interface{}{"x": "{{ absent.thing }}"}, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent")
}

func TestVars_CollectsDistinctReferences(t *testing.T) {
	e := New()
	vars := e.Vars(map[string]interface{}{
		"a": "{{ env.A }}",
		"b": []interface{}{"{{ env.A }}", "{{ secret.B }}"},
	})
	assert.ElementsMatch(t, []string{"env.A", "secret.B"}, vars)
}

func TestMergeContexts_LaterOverridesEarlier(t *testing.T) {
	merged := MergeContexts(
		map[string]interface{}{"a": 1, "b": 1},
		nil,
		map[string]interface{}{"b": 2},
	)
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
}

func TestRender_SprigAndInjectedFuncs(t *testing.T) {
	out, err := Render(
		`{{ upper .name }}: {{ widgets }}`,
		map[string]interface{}{"name": "dashboard"},
		texttemplate.FuncMap{"widgets": func() string { return "w1\nw2" }},
	)
	require.NoError(t, err)
	assert.Equal(t, "DASHBOARD: w1\nw2", out)
}
