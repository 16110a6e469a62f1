// Package dependency topologically orders a set of plugins by their
// declared hard (depends_on) and soft (init_after) prerequisites, detecting
// missing requirements and cycles. Post-order DFS with a visiting set;
// failures carry structured errors rather than bare strings.
package dependency

import (
	"sort"

	"pylon/internal/manifest"
	"pylon/internal/perr"
)

const (
	stateUnvisited = iota
	stateVisiting
	stateDone
)

// Resolve computes a total activation order for metaMap honoring every
// depends_on entry (hard) and every init_after entry that names another
// plugin present in metaMap (soft). present names plugins from an earlier
// phase that are assumed already active: they satisfy depends_on checks but
// are not walked or re-ordered.
//
// Returns MissingDependencyError if a depends_on target is neither in
// metaMap nor in present, and CircularDependencyError if depends_on/init_after
// restricted to metaMap contains a cycle. Iteration order for independent
// subtrees follows metaMap's sorted key order, so the result is deterministic
// for a given input.
func Resolve(metaMap map[string]*manifest.Metadata, present map[string]bool) ([]string, error) {
	names := make([]string, 0, len(metaMap))
	for name := range metaMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range metaMap[name].DependsOn {
			if _, ok := metaMap[dep]; ok {
				continue
			}
			if present[dep] {
				continue
			}
			return nil, perr.NewMissingDependencyError(dep, name)
		}
	}

	var order []string
	state := make(map[string]int, len(metaMap))

	var walk func(name string) error
	walk = func(name string) error {
		state[name] = stateVisiting
		m := metaMap[name]

		deps := make([]string, 0, len(m.DependsOn)+len(m.InitAfter))
		deps = append(deps, m.DependsOn...)
		for _, ia := range m.InitAfter {
			if _, ok := metaMap[ia]; ok {
				deps = append(deps, ia)
			}
		}

		for _, dep := range deps {
			if _, ok := metaMap[dep]; !ok {
				// Satisfied by the present-set from an earlier phase.
				continue
			}
			switch state[dep] {
			case stateDone:
				continue
			case stateVisiting:
				return perr.NewCircularDependencyError(dep, name)
			default:
				if err := walk(dep); err != nil {
					return err
				}
			}
		}

		state[name] = stateDone
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if state[name] == stateUnvisited {
			if err := walk(name); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}
