package server

import (
	"sort"

	"github.com/rclone/rnbd/internal/chain"
)

// ExportSet maps export names to the chain that serves them (spec.md §4.2's
// EXPORT_NAME/INFO/GO options all resolve through one of these). A server
// configured with a single export still goes through this path with one
// entry, the empty string resolving to it.
type ExportSet struct {
	chains  map[string]*chain.Chain
	def     string
}

// NewExportSet builds a set from name->chain pairs plus which name answers
// an empty-string ("use the default export") request.
func NewExportSet(def string, chains map[string]*chain.Chain) *ExportSet {
	return &ExportSet{chains: chains, def: def}
}

// Resolve maps a client-supplied export name (which may be "") to a chain
// and its canonical name.
func (e *ExportSet) Resolve(name string) (c *chain.Chain, canonical string, ok bool) {
	if name == "" {
		name = e.def
	}
	c, ok = e.chains[name]
	return c, name, ok
}

// Names lists every export name in a stable order, for NBD_OPT_LIST.
func (e *ExportSet) Names() []string {
	names := make([]string, 0, len(e.chains))
	for n := range e.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
