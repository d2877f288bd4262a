package problems

import (
	"fmt"
	"sort"

	"github.com/san-kum/probbvp/internal/bvp"
)

// Entry describes one catalogued problem.
type Entry struct {
	Name        string
	Description string
	New         func() bvp.BoundaryValueProblem
}

type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}

	r.add("pendulum", "nonlinear pendulum swinging from -π/2 to π/2",
		func() bvp.BoundaryValueProblem { return Pendulum() })
	r.add("bratu", "Bratu's problem y'' = -exp(y) on [0, 1]",
		func() bvp.BoundaryValueProblem { return Bratu(1) })
	r.add("bratu-second-order", "Bratu's problem in second-order form",
		func() bvp.BoundaryValueProblem { return BratuSecondOrder(1) })
	r.add("matlab", "bvp4c example with closed form sin(1/t)",
		func() bvp.BoundaryValueProblem { return Matlab(1) })
	r.add("matlab-second-order", "bvp4c example in second-order form",
		func() bvp.BoundaryValueProblem { return MatlabSecondOrder(1) })
	r.add("r-example", "ξy'' = y - y·y', ξ = 0.01",
		func() bvp.BoundaryValueProblem { return RExample(0.01) })
	r.add("problem-7", "interior layer at t = 0, ξ = 0.01",
		func() bvp.BoundaryValueProblem { return Problem7(0.01) })
	r.add("problem-7-second-order", "problem 7 in second-order form",
		func() bvp.BoundaryValueProblem { return Problem7SecondOrder(0.01) })
	r.add("problem-15", "turning point ξy'' = t·y, ξ = 0.01",
		func() bvp.BoundaryValueProblem { return Problem15(0.01) })
	r.add("seir", "SEIR epidemic with pinned infected and recovered counts",
		func() bvp.BoundaryValueProblem {
			return SEIR(0, 55, [2]float64{1, 1}, [2]float64{10, 10}, DefaultSEIR)
		})

	return r
}

func (r *Registry) add(name, desc string, fn func() bvp.BoundaryValueProblem) {
	r.entries[name] = Entry{Name: name, Description: desc, New: fn}
}

// Get builds a fresh instance of the named problem.
func (r *Registry) Get(name string) (bvp.BoundaryValueProblem, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s", name)
	}
	return e.New(), nil
}

// List returns the catalogue sorted by name.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
