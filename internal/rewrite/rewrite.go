// Package rewrite replaces bare module import calls in a cell body with
// dynamic loads of the module's resolved URL.
package rewrite

import (
	"encoding/json"
	"sort"

	"github.com/leapstack-labs/nodebook/internal/analyze"
)

// LoaderIdent is the function the evaluator provides for dynamic module
// loading. It takes a specifier and returns a promise of the module object.
const LoaderIdent = "__nodebook_import__"

// Registry resolves package names to module URLs.
type Registry interface {
	Resolve(name string) (string, bool)
}

// MapRegistry is a Registry backed by a plain map.
type MapRegistry map[string]string

// Resolve implements Registry.
func (m MapRegistry) Resolve(name string) (string, bool) {
	url, ok := m[name]
	return url, ok
}

// Expression returns the replacement text for an import of ref. The loaded
// module is unwrapped to its default export when it carries the __esModule
// marker.
func Expression(ref string) string {
	quoted, _ := json.Marshal(ref)
	return "(await " + LoaderIdent + "(" + string(quoted) + ").then(_$ => _$ && _$.__esModule ? _$.default : _$))"
}

// Resolve returns the URL registered for name, or name itself when the
// registry has no entry.
func Resolve(reg Registry, name string) string {
	if reg != nil {
		if url, ok := reg.Resolve(name); ok && url != "" {
			return url
		}
	}
	return name
}

// Rewrite splices a loader expression over every site in body. Sites are
// applied from the end of the body backwards so an edit never shifts the
// offsets of a site not yet processed. Out-of-range sites are skipped, and of
// two overlapping sites only the one starting first (the wider one, on a tie)
// is kept.
func Rewrite(body string, sites []analyze.ImportSite, reg Registry) string {
	if len(sites) == 0 {
		return body
	}
	ordered := make([]analyze.ImportSite, 0, len(sites))
	for _, site := range sites {
		if site.Start < 0 || site.End > len(body) || site.Start >= site.End {
			continue
		}
		ordered = append(ordered, site)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End > ordered[j].End
	})

	kept := ordered[:0]
	end := 0
	for _, site := range ordered {
		if site.Start < end {
			continue
		}
		kept = append(kept, site)
		end = site.End
	}

	out := body
	for i := len(kept) - 1; i >= 0; i-- {
		site := kept[i]
		out = out[:site.Start] + Expression(Resolve(reg, site.Module)) + out[site.End:]
	}
	return out
}
