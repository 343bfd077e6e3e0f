package mizar

import "fmt"

// BatchOptions controls unity merging per group type. Resource groups
// never merge regardless.
type BatchOptions struct {
	Unity bool // merge compile groups into unity units

	// PCHUseOptions is the expanded use-flags text of the project's PCH
	// create item, attached to every group discovered after the creating
	// one that does not exclude the PCH. Empty when the project has no
	// create item.
	PCHUseOptions string
}

// BatchItems groups non-excluded compile items into action groups. The
// pass is greedy and order preserving: each item joins the most recently
// opened group whose key {tool, output dir, options, output ext, PCH
// spec} matches, otherwise it opens a new group. Group names derive from
// the project name and discovery order, so identical inputs always
// produce identical graphs.
func BatchItems(project string, items []CompileItem, opts BatchOptions) ([]ActionGroup, error) {
	if err := validatePCH(items); err != nil {
		return nil, err
	}

	var groups []ActionGroup
	for _, it := range items {
		if it.Excluded {
			continue
		}
		placed := false
		for gi := len(groups) - 1; gi >= 0; gi-- {
			if groups[gi].sameKey(it) {
				groups[gi].Items = append(groups[gi].Items, it)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		groups = append(groups, ActionGroup{
			Name:      fmt.Sprintf("%s_g%d", project, len(groups)+1),
			Tool:      it.Tool,
			OutputDir: it.OutputDir,
			Options:   it.Options,
			OutputExt: it.OutputExt,
			PCH:       it.PCH,
			PCHHeader: it.PCHHeader,
			Items:     []CompileItem{it},
		})
	}

	attachPCHOptions(groups, opts.PCHUseOptions)
	markUnity(groups, opts)
	return groups, nil
}

// validatePCH rejects inputs with more than one PCH create item; a
// project can only produce one precompiled header.
func validatePCH(items []CompileItem) error {
	create := ""
	for _, it := range items {
		if it.Excluded || it.PCH != PCHCreate {
			continue
		}
		if create != "" {
			return fmt.Errorf("multiple precompiled-header create items: %s and %s", create, it.Source)
		}
		create = it.Source
	}
	return nil
}

// attachPCHOptions spreads the PCH use flags over every group discovered
// after the creating group, except groups that exclude the PCH.
func attachPCHOptions(groups []ActionGroup, useOpts string) {
	if useOpts == "" {
		return
	}
	createIdx := -1
	for gi := range groups {
		if groups[gi].PCH == PCHCreate {
			createIdx = gi
			break
		}
	}
	if createIdx < 0 {
		return
	}
	for gi := createIdx + 1; gi < len(groups); gi++ {
		g := &groups[gi]
		if g.Tool != ToolCompile || g.PCH == PCHExclude {
			continue
		}
		g.PCHOptions = useOpts
	}
}

// markUnity flags compile groups eligible for unity merging and sizes
// them: 1 + n/10 synthetic units. Single-item groups, resource groups
// and the PCH-creating group stay as-is.
func markUnity(groups []ActionGroup, opts BatchOptions) {
	if !opts.Unity {
		return
	}
	for gi := range groups {
		g := &groups[gi]
		if g.Tool != ToolCompile || g.PCH == PCHCreate || len(g.Items) < 2 {
			continue
		}
		g.Unity = true
		g.UnityUnits = 1 + len(g.Items)/10
	}
}
