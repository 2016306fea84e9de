package processing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadVarsFile reads a YAML file of template variables.
func LoadVarsFile(filename string) (map[string]any, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading vars file: %w", err)
	}

	var vars map[string]any
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parsing vars file: %w", err)
	}

	if vars == nil {
		vars = make(map[string]any)
	}

	return vars, nil
}
