package main

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// personaLibrary is the on-disk format for reusable persona specs: a YAML
// map of name to free-text spec.
type personaLibrary struct {
	Personas map[string]string `yaml:"personas"`
}

func loadPersonaLibrary(path string) (*personaLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read persona file")
	}
	var lib personaLibrary
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, eris.Wrap(err, "parse persona file")
	}
	if len(lib.Personas) == 0 {
		return nil, eris.New("persona file defines no personas")
	}
	return &lib, nil
}

func (l *personaLibrary) names() []string {
	out := make([]string, 0, len(l.Personas))
	for name := range l.Personas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// resolvePersona picks the persona spec from the flag combination: an inline
// spec wins, otherwise a named entry from the library file.
func resolvePersona(inline, file, name string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if file == "" {
		return "", eris.New("either --persona or --persona-file is required")
	}

	lib, err := loadPersonaLibrary(file)
	if err != nil {
		return "", err
	}

	if name == "" {
		if len(lib.Personas) == 1 {
			for _, spec := range lib.Personas {
				return spec, nil
			}
		}
		return "", eris.Errorf("persona file defines %d personas, pick one with --persona-name (%s)",
			len(lib.Personas), strings.Join(lib.names(), ", "))
	}

	spec, ok := lib.Personas[name]
	if !ok {
		return "", eris.Errorf("persona %q not found in %s (have: %s)",
			name, file, strings.Join(lib.names(), ", "))
	}
	return spec, nil
}
