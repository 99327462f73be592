// Package notebook models a project: an ordered list of cells plus the
// packages they may import.
//
// A Project is not safe for concurrent use; engine.Session serializes access.
package notebook

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/nodebook/internal/rewrite"
	"github.com/leapstack-labs/nodebook/internal/store"
)

// Sentinel errors.
var (
	ErrCellNotFound    = errors.New("cell not found")
	ErrPackageNotFound = errors.New("package not found")
)

// Cell is one unit of user code. JSON names follow the project files written
// by earlier versions of the notebook.
type Cell struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Source string `json:"displayedContent" yaml:"source"`

	// Lowered is the executable form of Source; valid only while
	// LoweredValid is true.
	Lowered      string `json:"transpiledContent" yaml:"lowered,omitempty"`
	LoweredValid bool   `json:"displayedHasTranspiled" yaml:"loweredValid"`
	HasRun       bool   `json:"transpiledHasRan" yaml:"hasRun"`

	LastRun   *LastRun `json:"lastRun" yaml:"lastRun,omitempty"`
	LastError string   `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// Store is the runtime output of the last run. Never persisted.
	Store *store.Store `json:"-" yaml:"-"`
}

// LastRun records the outcome of the most recent run of a cell.
type LastRun struct {
	Date     time.Time `json:"date" yaml:"date"`
	Duration int64     `json:"duration" yaml:"duration"` // milliseconds
	Result   string    `json:"result" yaml:"result"`
}

// Entrypoint maps an import name to a module URL inside a package.
type Entrypoint struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Package is a module available to cells by name.
type Package struct {
	Name        string       `json:"name" yaml:"name"`
	Version     string       `json:"version" yaml:"version"`
	URL         string       `json:"url" yaml:"url"`
	Entrypoints []Entrypoint `json:"entrypoints,omitempty" yaml:"entrypoints,omitempty"`
}

// Project is the persisted notebook shape.
type Project struct {
	Cells    []*Cell   `json:"contexts" yaml:"cells"`
	Packages []Package `json:"packages" yaml:"packages"`
}

// New returns an empty project.
func New() *Project {
	return &Project{Cells: []*Cell{}, Packages: []Package{}}
}

// Cell returns the cell with id.
func (p *Project) Cell(id string) (*Cell, error) {
	if i := p.index(id); i >= 0 {
		return p.Cells[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCellNotFound, id)
}

// Index returns the position of the cell with id, or -1.
func (p *Project) Index(id string) int {
	return p.index(id)
}

func (p *Project) index(id string) int {
	for i, c := range p.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AddCell appends a new cell holding source.
func (p *Project) AddCell(name, source string) *Cell {
	c := &Cell{
		ID:     uuid.NewString(),
		Name:   name,
		Source: source,
	}
	p.Cells = append(p.Cells, c)
	return c
}

// UpdateSource replaces a cell's source. The lowered form becomes invalid
// and the store from any earlier run is dropped.
func (p *Project) UpdateSource(id, source string) error {
	c, err := p.Cell(id)
	if err != nil {
		return err
	}
	if c.Source == source && c.LoweredValid {
		return nil
	}
	c.Source = source
	c.LoweredValid = false
	c.HasRun = false
	c.Store = nil
	return nil
}

// Rename sets a cell's display name.
func (p *Project) Rename(id, name string) error {
	c, err := p.Cell(id)
	if err != nil {
		return err
	}
	c.Name = name
	return nil
}

// RemoveCell deletes a cell. Later cells see a previous store without its
// bindings from then on.
func (p *Project) RemoveCell(id string) error {
	i := p.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	p.Cells = append(p.Cells[:i], p.Cells[i+1:]...)
	return nil
}

// MoveCell moves a cell to position to, clamped to the valid range.
func (p *Project) MoveCell(id string, to int) error {
	i := p.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	c := p.Cells[i]
	p.Cells = append(p.Cells[:i], p.Cells[i+1:]...)
	to = max(0, min(to, len(p.Cells)))
	p.Cells = append(p.Cells[:to], append([]*Cell{c}, p.Cells[to:]...)...)
	return nil
}

// PreviousStore merges the stores of every cell before id, in order.
func (p *Project) PreviousStore(id string) (*store.Store, error) {
	i := p.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	stores := make([]*store.Store, 0, i)
	for _, c := range p.Cells[:i] {
		stores = append(stores, c.Store)
	}
	return store.Merge(stores...), nil
}

// AddPackage registers pkg, replacing any package with the same name.
func (p *Project) AddPackage(pkg Package) {
	for i := range p.Packages {
		if p.Packages[i].Name == pkg.Name {
			p.Packages[i] = pkg
			return
		}
	}
	p.Packages = append(p.Packages, pkg)
}

// UpdatePackage changes the version and URL of a registered package.
func (p *Project) UpdatePackage(name, version, url string) error {
	for i := range p.Packages {
		if p.Packages[i].Name == name {
			p.Packages[i].Version = version
			p.Packages[i].URL = url
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPackageNotFound, name)
}

// RemovePackage unregisters a package.
func (p *Project) RemovePackage(name string) error {
	for i := range p.Packages {
		if p.Packages[i].Name == name {
			p.Packages = append(p.Packages[:i], p.Packages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPackageNotFound, name)
}

// Registry returns the module registry for the project's packages. Package
// names win over entrypoint names.
func (p *Project) Registry() rewrite.MapRegistry {
	reg := rewrite.MapRegistry{}
	for _, pkg := range p.Packages {
		for _, e := range pkg.Entrypoints {
			if e.Name != "" && e.Value != "" {
				reg[e.Name] = e.Value
			}
		}
	}
	for _, pkg := range p.Packages {
		reg[pkg.Name] = pkg.URL
	}
	return reg
}

// ImportMap is a browser import map.
type ImportMap struct {
	Imports map[string]string `json:"imports"`
}

// ImportMap renders the registry as an import map.
func (p *Project) ImportMap() ImportMap {
	return ImportMap{Imports: p.Registry()}
}
