package mizar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// HCL schema for project files. Property expressions are evaluated
// against the platform/config/project_dir variables, so a project can
// say output_dir = "bin/${platform}-${config}".

type projectFile struct {
	Project *projectBlock `hcl:"project,block"`
}

type projectBlock struct {
	Name        string            `hcl:"name,label"`
	Type        string            `hcl:"type"`
	OutputDir   string            `hcl:"output_dir,optional"`
	IntDir      string            `hcl:"intermediate_dir,optional"`
	OutputName  string            `hcl:"output_name,optional"`
	Files       []string          `hcl:"files,optional"`
	Resources   []string          `hcl:"resources,optional"`
	Options     map[string]string `hcl:"options,optional"`
	IncludeDirs []string          `hcl:"include_dirs,optional"`
	Defines     []string          `hcl:"defines,optional"`
	Unity       *bool             `hcl:"unity,optional"`
	Prebuild    string            `hcl:"prebuild,optional"`
	Postbuild   string            `hcl:"postbuild,optional"`
	Sources     []*sourceBlock    `hcl:"source,block"`
	References  []*referenceBlock `hcl:"reference,block"`
	Link        *linkBlock        `hcl:"link,block"`
}

type sourceBlock struct {
	Path      string            `hcl:"path,label"`
	Excluded  bool              `hcl:"excluded,optional"`
	PCH       string            `hcl:"pch,optional"`
	PCHHeader string            `hcl:"pch_header,optional"`
	Options   map[string]string `hcl:"options,optional"`
	OutputDir string            `hcl:"output_dir,optional"`
	OutputExt string            `hcl:"output_ext,optional"`
}

type referenceBlock struct {
	Name       string `hcl:"name,label"`
	Path       string `hcl:"path"`
	LinkOutput *bool  `hcl:"link_output,optional"`
}

type linkBlock struct {
	Libraries []string          `hcl:"libraries,optional"`
	Options   map[string]string `hcl:"options,optional"`
	ImportLib string            `hcl:"import_lib,optional"`
}

type solutionFile struct {
	Solution *solutionBlock `hcl:"solution,block"`
}

type solutionBlock struct {
	Name     string             `hcl:"name,label"`
	Platform string             `hcl:"platform,optional"`
	Config   string             `hcl:"config,optional"`
	Projects []*solutionProject `hcl:"project,block"`
}

type solutionProject struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path"`
}

// Solution is the decoded container file plus its own location, which
// member paths are resolved relative to.
type Solution struct {
	Path     string
	Name     string
	Platform string
	Config   string
	Members  map[string]string // member name -> absolute project path
	Order    []string          // member names in declaration order
}

// Reference is one edge out of a project, before resolution.
type Reference struct {
	Name       string
	Path       string
	LinkOutput bool
}

func evalContext(platform, config, projectDir string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"platform":    cty.StringVal(platform),
			"config":      cty.StringVal(config),
			"project_dir": cty.StringVal(projectDir),
		},
	}
}

// propagatedEnv captures the toolchain environment variables the graph's
// settings section forwards to every action.
func propagatedEnv() map[string]string {
	env := make(map[string]string)
	for _, key := range []string{"INCLUDE", "LIB", "LIBPATH", "PATH", "TMP", "TEMP"} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		}
	}
	return env
}

// LoadProject parses and evaluates one project file for the given
// platform/configuration flavor. The returned node carries no dependency
// indices yet; references come back separately for the resolver.
func LoadProject(path, platform, config string) (*ProjectNode, []Reference, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", errProjectNotFound, path)
	}

	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("parsing %s: %s", path, diags.Error())
	}

	var root projectFile
	ctx := evalContext(platform, config, filepath.Dir(abs))
	if diags := gohcl.DecodeBody(f.Body, ctx, &root); diags.HasErrors() {
		return nil, nil, fmt.Errorf("decoding %s: %s", path, diags.Error())
	}
	if root.Project == nil {
		return nil, nil, fmt.Errorf("%s: no project block", path)
	}
	pb := root.Project

	node := &ProjectNode{
		Path:       abs,
		Name:       pb.Name,
		Platform:   platform,
		Config:     config,
		OutputDir:  pb.OutputDir,
		IntDir:     pb.IntDir,
		OutputName: pb.OutputName,
		Prebuild:   pb.Prebuild,
		Postbuild:  pb.Postbuild,
		Env:        propagatedEnv(),
	}
	switch BuildType(pb.Type) {
	case Application, StaticLib, DynamicLib:
		node.Type = BuildType(pb.Type)
	default:
		return nil, nil, fmt.Errorf("%s: unknown project type %q", path, pb.Type)
	}
	if pb.Unity != nil {
		node.UnityEnabled = *pb.Unity
	}

	defaults := make(map[string]string, len(pb.Options)+2)
	for k, v := range pb.Options {
		defaults[k] = v
	}
	if len(pb.IncludeDirs) > 0 {
		defaults["includes"] = strings.Join(pb.IncludeDirs, ";")
	}
	if len(pb.Defines) > 0 {
		defaults["defines"] = strings.Join(pb.Defines, ";")
	}

	// Bulk files first, then per-source blocks, preserving declaration
	// order inside each list. Item identity within a group never depends
	// on which form declared it.
	for _, src := range pb.Files {
		node.Items = append(node.Items, newCompileItem(src, ToolCompile, defaults, node.IntDir, nil))
	}
	for _, sb := range pb.Sources {
		node.Items = append(node.Items, newCompileItem(sb.Path, ToolCompile, defaults, node.IntDir, sb))
	}
	for _, src := range pb.Resources {
		it := newCompileItem(src, ToolResource, defaults, node.IntDir, nil)
		it.OutputExt = ".res"
		node.Items = append(node.Items, it)
	}

	if pb.Link != nil {
		node.Link = LinkSpec{
			Libraries: pb.Link.Libraries,
			Meta:      pb.Link.Options,
			ImportLib: pb.Link.ImportLib,
		}
	}

	dir := filepath.Dir(abs)
	var refs []Reference
	for _, rb := range pb.References {
		linkOut := true
		if rb.LinkOutput != nil {
			linkOut = *rb.LinkOutput
		}
		refPath := rb.Path
		if !filepath.IsAbs(refPath) {
			refPath = filepath.Join(dir, refPath)
		}
		refs = append(refs, Reference{Name: rb.Name, Path: refPath, LinkOutput: linkOut})
	}
	return node, refs, nil
}

func newCompileItem(src string, tool ToolKind, defaults map[string]string, intDir string, sb *sourceBlock) CompileItem {
	it := CompileItem{
		Source:    src,
		Tool:      tool,
		PCH:       PCHNone,
		OutputDir: intDir,
		OutputExt: ".obj",
		Meta:      make(map[string]string, len(defaults)),
	}
	for k, v := range defaults {
		it.Meta[k] = v
	}
	if sb == nil {
		return it
	}
	it.Excluded = sb.Excluded
	if sb.PCH != "" {
		it.PCH = PCHRole(sb.PCH)
	}
	it.PCHHeader = sb.PCHHeader
	for k, v := range sb.Options {
		it.Meta[k] = v
	}
	if sb.OutputDir != "" {
		it.OutputDir = sb.OutputDir
	}
	if sb.OutputExt != "" {
		it.OutputExt = sb.OutputExt
	}
	return it
}

// LoadSolution parses a solution container file.
func LoadSolution(path string) (*Solution, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: %s", errProjectNotFound, path)
	}

	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %s", path, diags.Error())
	}

	var root solutionFile
	if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %s", path, diags.Error())
	}
	if root.Solution == nil {
		return nil, fmt.Errorf("%s: no solution block", path)
	}

	dir := filepath.Dir(abs)
	sol := &Solution{
		Path:     abs,
		Name:     root.Solution.Name,
		Platform: root.Solution.Platform,
		Config:   root.Solution.Config,
		Members:  make(map[string]string, len(root.Solution.Projects)),
	}
	for _, p := range root.Solution.Projects {
		mp := p.Path
		if !filepath.IsAbs(mp) {
			mp = filepath.Join(dir, mp)
		}
		if _, dup := sol.Members[p.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate project %q", path, p.Name)
		}
		sol.Members[p.Name] = mp
		sol.Order = append(sol.Order, p.Name)
	}
	return sol, nil
}
