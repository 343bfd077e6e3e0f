package mizar

import (
	"fmt"
	"path/filepath"
)

// Assemble builds the full graph for one project: settings, tool
// declarations, batched action groups, exactly one link or archive
// step, hook nodes and the trailing alias. The caller has already run
// the fingerprint gate and decided on unity merging.
func Assemble(node *ProjectNode, tc Toolchain, fingerprint string, unity bool) (*BuildGraph, error) {
	// Expand every item's option metadata up front; grouping compares
	// the expanded text, never the raw maps.
	for i := range node.Items {
		it := &node.Items[i]
		if it.Excluded {
			continue
		}
		opts, err := tc.OptionsFor(it.Tool, it.Meta, nil)
		if err != nil {
			return nil, fmt.Errorf("evaluating options of %s: %w", it.Source, err)
		}
		it.Options = opts
	}

	batchOpts := BatchOptions{Unity: unity}
	if hdr, ok := pchHeader(node.Items); ok {
		batchOpts.PCHUseOptions = tc.PCHUseOptions(hdr, pchFilePath(node))
	}
	groups, err := BatchItems(node.Name, node.Items, batchOpts)
	if err != nil {
		return nil, err
	}
	for gi := range groups {
		if groups[gi].PCH == PCHCreate {
			groups[gi].PCHOptions = tc.PCHCreateOptions(groups[gi].PCHHeader, pchFilePath(node))
		}
	}

	g := &BuildGraph{
		Project:     node,
		Fingerprint: fingerprint,
		Settings:    node.Env,
		Groups:      groups,
		Prebuild:    node.Prebuild,
		Postbuild:   node.Postbuild,
		Alias:       node.Name,
	}

	g.Tools = append(g.Tools, tc.Compiler())
	for _, grp := range groups {
		if grp.Tool == ToolResource {
			g.Tools = append(g.Tools, tc.ResourceCompiler())
			break
		}
	}

	// Exactly one link or archive step per project.
	linkKind := ToolLink
	if node.Type == StaticLib {
		linkKind = ToolArchive
		g.Archive = true
	}
	linkOpts, err := tc.OptionsFor(linkKind, node.Link.Meta, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluating link options of %s: %w", node.Name, err)
	}
	g.LinkOptions = linkOpts
	g.LinkName = node.Name + "_out"

	for _, grp := range groups {
		g.LinkInputs = append(g.LinkInputs, grp.Name)
	}
	g.LinkInputs = append(g.LinkInputs, node.AdditionalLinkInputs...)
	g.LinkInputs = append(g.LinkInputs, node.Link.Libraries...)

	node.NoCompile = len(groups) == 0
	return g, nil
}

func pchHeader(items []CompileItem) (string, bool) {
	for _, it := range items {
		if !it.Excluded && it.PCH == PCHCreate {
			return it.PCHHeader, true
		}
	}
	return "", false
}

func pchFilePath(node *ProjectNode) string {
	return filepath.Join(node.IntDir, node.Name+".pch")
}
