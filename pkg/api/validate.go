package api

import (
	"fmt"
	"slices"
	"strings"
)

var requiredTools = []string{
	ToolPatchManifests,
	ToolPresign,
	ToolAddMod,
	ToolInstall,
}

// Validate checks the install configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if strings.ContainsAny(c.Version, `/\`) || c.Version == "." || c.Version == ".." {
		return fmt.Errorf("version %q is not a valid directory name", c.Version)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cacheDir is required")
	}

	if err := validateSources(c.Sources); err != nil {
		return err
	}

	tools := c.Tools.ToolMap()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		tool := tools[name]
		required := slices.Contains(requiredTools, name) || (name == ToolReplaceIcon && c.IconEnabled())
		if tool == nil {
			if required {
				return fmt.Errorf("tools.%s is required", name)
			}
			continue
		}
		if err := validateTool(tool); err != nil {
			return fmt.Errorf("tools.%s: %w", name, err)
		}
	}

	return nil
}

func validateSources(s Sources) error {
	sources := s.SourceMap()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if strings.TrimSpace(sources[name]) == "" {
			return fmt.Errorf("sources.%s is required", name)
		}
	}
	return nil
}

func validateTool(t *ToolConfig) error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}
