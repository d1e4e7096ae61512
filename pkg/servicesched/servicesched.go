// Package servicesched orders per-node startup commands by declared
// service dependencies, renders file templates into the node's private
// filesystem root, and runs startup/validate/shutdown commands (C5).
package servicesched

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"
	"time"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/pkg/node"
)

// ValidationMode controls how a service's validate commands run.
type ValidationMode string

const (
	ValidationBlocking    ValidationMode = "blocking"
	ValidationNonBlocking ValidationMode = "non-blocking"
	ValidationTimer       ValidationMode = "timer"
)

// FileTemplate renders Contents (a text/template source) and writes the
// result to Path under the node's filesystem root.
type FileTemplate struct {
	Path     string
	Contents string
}

// Definition declares one service: its dependencies, file templates, and
// the three command phases (§3 "Service").
type Definition struct {
	Name             string
	Group            string
	Dependencies     []string
	Directories      []string
	Files            []FileTemplate
	StartupCommands  [][]string
	ValidateCommands [][]string
	ShutdownCommands [][]string
	Mode             ValidationMode
	ValidationTimer  time.Duration
	ValidationPeriod time.Duration
}

// Catalog is the set of known service definitions, keyed by name. At most
// one Definition exists per name (§3 invariant).
type Catalog map[string]*Definition

// TemplateVars is the name→value map available to file templates:
// Session configuration, node attributes, and the interface table (§4.5).
type TemplateVars map[string]interface{}

// Result reports one service's outcome on one node.
type Result struct {
	Name string
	Up   bool
	Err  error
}

// order topologically sorts names (and their transitive dependencies from
// catalog) breaking ties by insertion order into names, then lexicographic
// name (§4.5). Dependencies missing from the catalog are skipped with a
// warning, not a hard failure.
func order(catalog Catalog, names []string) []string {
	insertionIndex := make(map[string]int, len(names))
	for i, n := range names {
		if _, seen := insertionIndex[n]; !seen {
			insertionIndex[n] = i
		}
	}

	visited := make(map[string]bool)
	var out []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		def, ok := catalog[name]
		if !ok {
			corelog.WithFields(map[string]interface{}{"service": name}).Warn("unknown service dependency skipped")
			return
		}
		deps := append([]string(nil), def.Dependencies...)
		sort.Slice(deps, func(i, j int) bool {
			ii, iok := insertionIndex[deps[i]]
			ij, jok := insertionIndex[deps[j]]
			if iok && jok && ii != ij {
				return ii < ij
			}
			if iok != jok {
				return iok
			}
			return deps[i] < deps[j]
		})
		for _, d := range deps {
			visit(d)
		}
		out = append(out, name)
	}

	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return insertionIndex[sorted[i]] < insertionIndex[sorted[j]]
	})
	for _, n := range sorted {
		visit(n)
	}
	return out
}

// Start renders templates and runs startup (then, per mode, validate)
// commands for every service on n, in dependency order, using mgr to
// execute commands inside n (§4.5).
func Start(ctx context.Context, mgr *node.Manager, catalog Catalog, n *node.Node, vars TemplateVars) []Result {
	names := order(catalog, n.Services)
	results := make([]Result, 0, len(names))

	for _, name := range names {
		def, ok := catalog[name]
		if !ok {
			continue
		}
		results = append(results, startOne(ctx, mgr, def, n, vars))
	}
	return results
}

func startOne(ctx context.Context, mgr *node.Manager, def *Definition, n *node.Node, vars TemplateVars) Result {
	for _, dir := range def.Directories {
		if err := os.MkdirAll(filepath.Join(n.FSRoot, dir), 0o755); err != nil {
			return Result{Name: def.Name, Err: coreerr.NewKernel("mkdir-service-dir", dir, err)}
		}
	}

	for _, ft := range def.Files {
		if err := renderFile(n.FSRoot, ft, vars); err != nil {
			return Result{Name: def.Name, Err: err}
		}
	}

	for _, argv := range def.StartupCommands {
		if _, exitCode, err := mgr.RunInNode(ctx, n, argv, true, ""); err != nil {
			return Result{Name: def.Name, Err: err}
		} else if exitCode != 0 {
			corelog.WithNode(n.Name).Warnf("service %s startup command %v exited %d", def.Name, argv, exitCode)
		}
	}

	switch def.Mode {
	case ValidationNonBlocking, "":
		return Result{Name: def.Name, Up: true}
	case ValidationBlocking:
		up := runValidate(ctx, mgr, def, n)
		return Result{Name: def.Name, Up: up}
	case ValidationTimer:
		go func() {
			time.Sleep(def.ValidationTimer)
			up := runValidate(ctx, mgr, def, n)
			corelog.WithNode(n.Name).Infof("service %s timer validation: up=%v", def.Name, up)
		}()
		return Result{Name: def.Name, Up: true}
	default:
		return Result{Name: def.Name, Up: true}
	}
}

func runValidate(ctx context.Context, mgr *node.Manager, def *Definition, n *node.Node) bool {
	for _, argv := range def.ValidateCommands {
		_, exitCode, err := mgr.RunInNode(ctx, n, argv, true, "")
		if err != nil || exitCode != 0 {
			corelog.WithNode(n.Name).Warnf("service %s validate command %v failed (exit=%d, err=%v)", def.Name, argv, exitCode, err)
			return false
		}
	}
	return true
}

// Shutdown runs each service's shutdown commands in reverse topological
// order (§4.5).
func Shutdown(ctx context.Context, mgr *node.Manager, catalog Catalog, n *node.Node) {
	names := order(catalog, n.Services)
	for i := len(names) - 1; i >= 0; i-- {
		def, ok := catalog[names[i]]
		if !ok {
			continue
		}
		for _, argv := range def.ShutdownCommands {
			if _, _, err := mgr.RunInNode(ctx, n, argv, true, ""); err != nil {
				corelog.WithNode(n.Name).Warnf("service %s shutdown command %v failed: %v", def.Name, argv, err)
			}
		}
	}
}

func renderFile(fsRoot string, ft FileTemplate, vars TemplateVars) error {
	tmpl, err := template.New(ft.Path).Parse(ft.Contents)
	if err != nil {
		return coreerr.NewValidation(fmt.Sprintf("service template %s: %v", ft.Path, err))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return coreerr.NewValidation(fmt.Sprintf("service template %s: %v", ft.Path, err))
	}

	dest := filepath.Join(fsRoot, ft.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return coreerr.NewKernel("mkdir-template-dest", dest, err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return coreerr.NewKernel("write-template", dest, err)
	}
	return nil
}
