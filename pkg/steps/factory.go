package steps

import (
	"fmt"
	"net/http"

	"github.com/systemstart/modinstall/pkg/api"
	"github.com/systemstart/modinstall/pkg/workspace"
)

type downloadSpec struct {
	kind   Kind
	source string
	file   string
	cached bool
}

// Download steps in canonical order. Split APKs are version keyed and cached;
// the mod is always fetched fresh.
var downloadSpecs = []downloadSpec{
	{KindDownloadBase, api.SourceBase, "base.apk", true},
	{KindDownloadLibs, api.SourceLibs, "libs.apk", true},
	{KindDownloadLang, api.SourceLang, "lang.apk", true},
	{KindDownloadResources, api.SourceResources, "resources.apk", true},
	{KindDownloadMod, api.SourceMod, "mod.apk", false},
}

// BuildRegistry assembles the steps for one install in canonical order:
// downloads, patching (with the optional icon replacement), install.
// vars is the template context for source URLs and tool arguments.
func BuildRegistry(cfg *api.Config, layout workspace.Layout, vars map[string]any, client *http.Client) (*Registry, error) {
	vars = MergeVars(vars, map[string]any{
		"Version": layout.Version,
		"Product": cfg.Product,
		"ModName": cfg.ModName,
	})

	sources := cfg.Sources.SourceMap()
	var list []Step

	for _, d := range downloadSpecs {
		url, err := render(string(d.kind), sources[d.source], vars)
		if err != nil {
			return nil, fmt.Errorf("sources.%s: %w", d.source, err)
		}
		cacheDir := ""
		if d.cached {
			cacheDir = layout.VersionDir
		}
		list = append(list, NewDownloadStep(d.kind, url, d.file, cacheDir, layout.PatchedDir, client))
	}

	if cfg.IconEnabled() {
		if cfg.Tools.ReplaceIcon == nil {
			return nil, fmt.Errorf("tools.%s is required when patchIcon is enabled", api.ToolReplaceIcon)
		}
		list = append(list, NewReplaceIconStep(*cfg.Tools.ReplaceIcon, layout.PatchedDir, vars))
	}

	required := []struct {
		name string
		tool *api.ToolConfig
	}{
		{api.ToolPatchManifests, cfg.Tools.PatchManifests},
		{api.ToolPresign, cfg.Tools.Presign},
		{api.ToolAddMod, cfg.Tools.AddMod},
		{api.ToolInstall, cfg.Tools.Install},
	}
	for _, r := range required {
		if r.tool == nil {
			return nil, fmt.Errorf("tools.%s is required", r.name)
		}
	}

	list = append(list,
		NewPatchManifestsStep(*cfg.Tools.PatchManifests, layout.PatchedDir, vars),
		NewPresignStep(*cfg.Tools.Presign, layout.SignedDir, vars),
		NewAddModStep(*cfg.Tools.AddMod, layout.SignedDir, layout.LSPatchedDir, vars),
		NewInstallStep(*cfg.Tools.Install, layout.LSPatchedDir, vars),
	)

	return NewRegistry(list...), nil
}
