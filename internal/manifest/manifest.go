// Package manifest defines the plugin metadata and descriptor types:
// the parsed contents of a bundle's metadata.json and the in-process
// lifecycle record the module manager keeps per plugin.
package manifest

import (
	"encoding/json"
	"fmt"

	"pylon/internal/loader"
)

// Metadata is the parsed contents of a plugin's metadata.json.
type Metadata struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Module             string   `json:"module"`
	DependsOn          []string `json:"depends_on,omitempty"`
	InitAfter          []string `json:"init_after,omitempty"`
	Extract            bool     `json:"extract,omitempty"`
	InitScripts        []string `json:"init_scripts,omitempty"`
	InitScriptsRuntime string   `json:"init_scripts_runtime,omitempty"`
}

// ParseMetadata decodes metadata.json bytes into a Metadata value.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: malformed metadata.json: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest: metadata.json missing required field \"name\"")
	}
	if m.Module == "" {
		return nil, fmt.Errorf("manifest: metadata.json missing required field \"module\"")
	}
	return &m, nil
}

// Descriptor is the in-process lifecycle record for one plugin. The
// lifecycle invariants (a prepared descriptor has a requirements base, an
// activated one is prepared) are enforced by the module manager, not by
// this type itself; Descriptor is a plain record.
type Descriptor struct {
	Name     string
	Loader   loader.Loader
	Metadata *Metadata

	Requirements string // declared dependency package list, as text
	Path         string // local filesystem path, empty if the loader exposes none

	Config map[string]interface{} // resolved config after layering + substitution

	RequirementsBase string // per-plugin isolated dependency site root
	RequirementsPath string // leaf site-packages path

	Module interface{} // instantiated plugin entry-point object

	Prepared  bool // requirements installed
	Activated bool // init() completed
}

// Validate checks the Descriptor lifecycle invariants.
func (d *Descriptor) Validate() error {
	if d.Prepared && d.RequirementsBase == "" {
		return fmt.Errorf("manifest: descriptor %q is prepared but requirements_base is empty", d.Name)
	}
	if d.Activated && !d.Prepared {
		return fmt.Errorf("manifest: descriptor %q is activated but not prepared", d.Name)
	}
	return nil
}
