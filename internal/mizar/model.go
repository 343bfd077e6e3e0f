package mizar

import "path/filepath"

// BuildType classifies what a project's link step produces.
type BuildType string

const (
	Application BuildType = "Application"
	StaticLib   BuildType = "StaticLib"
	DynamicLib  BuildType = "DynamicLib"
)

// ToolKind names the tool a compile item is fed to.
type ToolKind string

const (
	ToolCompile  ToolKind = "compile"
	ToolResource ToolKind = "resource"
)

// PCHRole is a compile item's relation to the precompiled header.
type PCHRole string

const (
	PCHNone    PCHRole = "none"
	PCHCreate  PCHRole = "create"
	PCHUse     PCHRole = "use"
	PCHExclude PCHRole = "exclude"
)

// CompileItem is one translation unit (or resource script) as discovered
// in the project file, in declaration order.
type CompileItem struct {
	Source    string
	Tool      ToolKind
	Excluded  bool
	PCH       PCHRole
	PCHHeader string
	Meta      map[string]string // raw option metadata, expanded by the toolchain
	Options   string            // expanded options string, opaque once set
	OutputDir string
	OutputExt string
}

// LinkSpec holds the project's link/archive inputs beyond compiled objects.
type LinkSpec struct {
	Libraries []string
	Meta      map[string]string
	ImportLib string
}

// ProjectNode is one project in the resolved graph. Deps and Dependents
// are indices into the owning Resolution's node arena.
type ProjectNode struct {
	Path       string // project file path, the node's identity
	Name       string
	Type       BuildType
	Platform   string
	Config     string
	OutputDir  string
	IntDir     string
	OutputName string

	Items []CompileItem
	Link  LinkSpec

	Prebuild  string
	Postbuild string

	UnityEnabled bool
	Env          map[string]string // propagated INCLUDE/LIB/PATH/TMP

	Deps       []int
	Dependents []int

	// Accumulated outputs of dependencies, appended in generation order.
	AdditionalLinkInputs []string

	// Set during generation when the project yields zero action groups.
	NoCompile bool
}

// OutputPath is the primary artifact the link or archive step produces.
func (p *ProjectNode) OutputPath() string {
	name := p.OutputName
	if name == "" {
		name = p.Name
	}
	var ext string
	switch p.Type {
	case Application:
		ext = ".exe"
	case DynamicLib:
		ext = ".dll"
	case StaticLib:
		ext = ".lib"
	}
	return filepath.Join(p.OutputDir, name+ext)
}

// LinkExport is the path dependents append to their additional link
// inputs: the archive itself for a static library, the import library
// for anything that links.
func (p *ProjectNode) LinkExport() string {
	if p.Type == StaticLib {
		return p.OutputPath()
	}
	if p.Link.ImportLib != "" {
		return p.Link.ImportLib
	}
	name := p.OutputName
	if name == "" {
		name = p.Name
	}
	return filepath.Join(p.OutputDir, name+".lib")
}

// ActionGroup is one batch of compile items sharing the full grouping
// key: tool kind, output directory, options string, output extension and
// PCH spec.
type ActionGroup struct {
	Name      string
	Tool      ToolKind
	OutputDir string
	Options   string
	OutputExt string
	PCH       PCHRole
	PCHHeader string
	Items     []CompileItem

	// Options text injected next to Options when the group participates
	// in the precompiled header (create flags on the creating group, use
	// flags on every later group that does not exclude the PCH).
	PCHOptions string

	Unity      bool
	UnityUnits int
}

// sameKey reports whether an item can join this group.
func (g *ActionGroup) sameKey(it CompileItem) bool {
	return g.Tool == it.Tool &&
		g.OutputDir == it.OutputDir &&
		g.Options == it.Options &&
		g.OutputExt == it.OutputExt &&
		g.PCH == it.PCH &&
		g.PCHHeader == it.PCHHeader
}

// ToolDecl declares a tool in the graph preamble: its executable and the
// auxiliary runtime files the executor must stage next to it.
type ToolDecl struct {
	Name  string
	Path  string
	Extra []string
}

// BuildGraph is the fully assembled graph for one project, ready to be
// encoded and written.
type BuildGraph struct {
	Project     *ProjectNode
	Fingerprint string

	Settings map[string]string // propagated environment
	Tools    []ToolDecl
	Groups   []ActionGroup

	LinkName    string // node name of the link/archive step
	LinkInputs  []string
	LinkOptions string
	Archive     bool // true for StaticLib

	Prebuild  string
	Postbuild string

	Alias string // final target node name
}
