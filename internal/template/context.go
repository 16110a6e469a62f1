package template

// MergeContexts layers configuration mappings left to right: later maps
// override earlier ones key-by-key. This is the plugin config layering
// primitive (bundle defaults ← host override ← custom document); nil maps
// are skipped, so absent layers cost nothing.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}
