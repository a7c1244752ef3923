package jobs

import (
	"fmt"
	"sort"
)

// Registry holds the runner of every configured vendor.
type Registry struct {
	runners map[string]*Runner
}

func NewRegistry(runners ...*Runner) *Registry {
	reg := &Registry{runners: make(map[string]*Runner, len(runners))}
	for _, r := range runners {
		reg.runners[r.Name()] = r
	}
	return reg
}

func (g *Registry) Get(name string) (*Runner, error) {
	r, ok := g.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, name)
	}
	return r, nil
}

// Names returns the vendor names in sorted order.
func (g *Registry) Names() []string {
	names := make([]string, 0, len(g.runners))
	for name := range g.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Registry) Close() {
	for _, r := range g.runners {
		r.Close()
	}
}
