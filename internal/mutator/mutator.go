// Package mutator implements the mutate(parent, out, flip_rate, dict,
// external) operation: AFL-style bit/byte/arithmetic/
// interesting-value mutation, optional dictionary-token splicing, and
// optional delegation to an external command. A Family interface
// plus Registry (name -> Family lookup, ordered iteration) and AFL
// interesting-value tables (afl.go), generalized from per-InputType
// (JSON/XML/form) web-payload mutation to a single opaque-buffer
// mutation pipeline with no notion of content type.
package mutator

import (
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// Family is one mutation strategy the Engine can apply.
type Family interface {
	Name() string
	Type() types.MutationType
	// Apply mutates buf in place using r for randomness, touching
	// roughly budget bytes.
	Apply(r *rng, buf []byte, budget int)
}

// Registry holds the set of available mutation families: a
// name -> Family lookup with ordered iteration.
type Registry struct {
	order  []string
	byName map[string]Family
}

// NewRegistry builds the default registry: bit flip, byte flip,
// arithmetic, and interesting-value, registered in that order; Mutate
// picks among them at random rather than trying them in turn.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Family)}
	for _, f := range []Family{
		&bitFlipFamily{},
		&byteFlipFamily{},
		&arithmeticFamily{},
		&interestingFamily{},
	} {
		r.Register(f)
	}
	return r
}

// Register adds (or replaces) a mutation family.
func (r *Registry) Register(f Family) {
	if _, exists := r.byName[f.Name()]; !exists {
		r.order = append(r.order, f.Name())
	}
	r.byName[f.Name()] = f
}

// Get looks up a family by name.
func (r *Registry) Get(name string) (Family, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// All returns every registered family in registration order.
func (r *Registry) All() []Family {
	out := make([]Family, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Count returns the number of registered families.
func (r *Registry) Count() int {
	return len(r.order)
}

// Options configures a single Mutate call.
type Options struct {
	FlipRate float64  // expected fraction of differing bytes
	Dict     [][]byte // optional dictionary tokens to splice
	External string   // optional external mutator command line
}

// Engine runs the composite mutate(parent, out, flip_rate, dict,
// external) pipeline. One Engine (and its embedded rng) is owned by
// exactly one worker goroutine.
type Engine struct {
	registry *Registry
	rng      *rng
}

// NewEngine creates a per-worker mutation engine with its own LCG,
// seeded from /dev/urandom at thread start.
func NewEngine() *Engine {
	return &Engine{registry: NewRegistry(), rng: newRNG()}
}

// Registry exposes the engine's family registry, e.g. so callers can
// register additional families such as a custom DictionaryInsert
// source.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Mutate produces a mutated copy of parent whose expected fraction of
// differing bytes is opts.FlipRate. If opts.External names a command
// line, mutation is delegated to it entirely (stdin = parent, stdout
// captured as the result) and the local families are skipped. If
// opts.Dict is non-empty, a dictionary token is spliced in with small
// probability alongside the byte-level mutation.
func (e *Engine) Mutate(parent []byte, opts Options) ([]byte, error) {
	if opts.External != "" {
		return runExternalMutator(opts.External, parent)
	}

	out := make([]byte, len(parent))
	copy(out, parent)
	if len(out) == 0 || opts.FlipRate <= 0 {
		return out, nil
	}

	budget := int(float64(len(out)) * opts.FlipRate)
	if budget < 1 {
		budget = 1
	}

	families := e.registry.All()
	for budget > 0 {
		f := families[e.rng.Intn(len(families))]
		step := 1 + e.rng.Intn(4)
		if step > budget {
			step = budget
		}
		f.Apply(e.rng, out, step)
		budget -= step
	}

	if len(opts.Dict) > 0 && e.rng.Float64() < 0.25 {
		out = spliceDictToken(e.rng, out, opts.Dict)
	}

	return out, nil
}
