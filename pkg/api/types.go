package api

const (
	DefaultProduct = "modinstall"
	DefaultModName = "Mod"

	SourceBase      = "base"
	SourceLibs      = "libs"
	SourceLang      = "lang"
	SourceResources = "resources"
	SourceMod       = "mod"

	ToolReplaceIcon    = "replaceIcon"
	ToolPatchManifests = "patchManifests"
	ToolPresign        = "presign"
	ToolAddMod         = "addMod"
	ToolInstall        = "install"
)

// Config is the install configuration file format.
type Config struct {
	Product      string         `yaml:"product"`
	ModName      string         `yaml:"modName"`
	CacheDir     string         `yaml:"cacheDir"`
	LogExportDir string         `yaml:"logExportDir"`
	Version      string         `yaml:"version"`
	PatchIcon    *bool          `yaml:"patchIcon,omitempty"` // default true
	Developer    bool           `yaml:"developer"`
	Vars         map[string]any `yaml:"vars"`
	Sources      Sources        `yaml:"sources"`
	Tools        Tools          `yaml:"tools"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
}

// Sources holds URL templates for each downloaded artifact.
type Sources struct {
	Base      string `yaml:"base"`
	Libs      string `yaml:"libs"`
	Lang      string `yaml:"lang"`
	Resources string `yaml:"resources"`
	Mod       string `yaml:"mod"`
}

// Tools holds the external commands used by the patching and install steps.
type Tools struct {
	ReplaceIcon    *ToolConfig `yaml:"replaceIcon,omitempty"`
	PatchManifests *ToolConfig `yaml:"patchManifests,omitempty"`
	Presign        *ToolConfig `yaml:"presign,omitempty"`
	AddMod         *ToolConfig `yaml:"addMod,omitempty"`
	Install        *ToolConfig `yaml:"install,omitempty"`
}

// ToolConfig describes one external command invocation.
// Args are templates; with PerFile the command runs once per APK with .File
// set, otherwise once with every APK path appended to the rendered args.
type ToolConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	PerFile bool     `yaml:"perFile"`
}

// IconEnabled reports whether the optional icon replacement step runs.
func (c *Config) IconEnabled() bool {
	return c.PatchIcon == nil || *c.PatchIcon
}

// SourceMap returns the URL templates keyed by source name.
func (s Sources) SourceMap() map[string]string {
	return map[string]string{
		SourceBase:      s.Base,
		SourceLibs:      s.Libs,
		SourceLang:      s.Lang,
		SourceResources: s.Resources,
		SourceMod:       s.Mod,
	}
}

// ToolMap returns the tool configurations keyed by tool name.
func (t Tools) ToolMap() map[string]*ToolConfig {
	return map[string]*ToolConfig{
		ToolReplaceIcon:    t.ReplaceIcon,
		ToolPatchManifests: t.PatchManifests,
		ToolPresign:        t.Presign,
		ToolAddMod:         t.AddMod,
		ToolInstall:        t.Install,
	}
}
