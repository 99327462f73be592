package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Format is a project file encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format by file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Export encodes the project without runtime state: stores are dropped and
// every cell is marked as not run.
func (p *Project) Export(format Format) ([]byte, error) {
	out := p.stripped()
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return nil, fmt.Errorf("failed to encode project: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode project: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode project: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown project format %q", format)
	}
}

// Import decodes a project. Run state is reset and cells without an id are
// given one.
func Import(data []byte, format Format) (*Project, error) {
	p := &Project{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to decode project: %w", err)
		}
	case FormatJSON, "":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to decode project: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown project format %q", format)
	}

	if p.Cells == nil {
		p.Cells = []*Cell{}
	}
	if p.Packages == nil {
		p.Packages = []Package{}
	}
	seen := make(map[string]bool, len(p.Cells))
	for _, c := range p.Cells {
		if c == nil {
			return nil, fmt.Errorf("failed to decode project: empty cell")
		}
		if c.ID == "" || seen[c.ID] {
			c.ID = uuid.NewString()
		}
		seen[c.ID] = true
		c.HasRun = false
		c.Store = nil
	}
	return p, nil
}

func (p *Project) stripped() *Project {
	out := &Project{
		Cells:    make([]*Cell, 0, len(p.Cells)),
		Packages: append([]Package{}, p.Packages...),
	}
	for _, c := range p.Cells {
		cp := *c
		cp.Store = nil
		cp.HasRun = false
		out.Cells = append(out.Cells, &cp)
	}
	return out
}
