package discovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/transport"
)

// Echoer confirms that an input and an output reach the same device.
type Echoer interface {
	Echo(ctx context.Context, input, output transport.Port) (bool, error)
}

// Pair is a candidate link produced by a pairing technique.
type Pair struct {
	Input  transport.Port
	Output transport.Port
	Method link.Method
}

// Finder turns enumerated ports into links.
type Finder struct {
	transport transport.Transport
	echo      Echoer
	config    *Config
	log       zerolog.Logger
}

// New returns a Finder. echo is usually a *link.Identifier.
func New(tr transport.Transport, echo Echoer, opts ...Option) *Finder {
	if tr == nil {
		panic("transport cannot be nil")
	}
	if echo == nil {
		panic("echoer cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Finder{transport: tr, echo: echo, config: cfg, log: cfg.Logger}
}

// ValidPorts returns the connected ports accepted by the filter.
func (f *Finder) ValidPorts() (inputs, outputs []transport.Port, err error) {
	inputs, err = f.config.Filter.ValidInputs(f.transport)
	if err != nil {
		return nil, nil, fmt.Errorf("list inputs: %w", err)
	}
	outputs, err = f.config.Filter.ValidOutputs(f.transport)
	if err != nil {
		return nil, nil, fmt.Errorf("list outputs: %w", err)
	}
	return inputs, outputs, nil
}

// DeadLinks returns the links whose input is not among inputs. Busy links
// are skipped because their device may be re-enumerating.
func DeadLinks(links []*link.Link, inputs []transport.Port) []*link.Link {
	var dead []*link.Link
	for _, l := range links {
		if !l.Busy() && !transport.Contains(inputs, l.Input().ID) {
			dead = append(dead, l)
		}
	}
	return dead
}

// PruneDeadLinks removes dead links from the roster in one pass and
// returns them.
func (f *Finder) PruneDeadLinks(r *link.Roster, inputs []transport.Port) []*link.Link {
	dead := make(map[*link.Link]bool)
	for _, l := range DeadLinks(r.Links(), inputs) {
		dead[l] = true
	}
	if len(dead) == 0 {
		return nil
	}

	removed := r.RemoveWhere(func(l *link.Link) bool { return dead[l] })
	for _, l := range removed {
		f.log.Info().
			Uint64("link_runtime_id", l.RuntimeID()).
			Str("uuid", l.UUID()).
			Msg("link removed")
	}
	return removed
}

// PossibleLinks pairs the valid ports not used by the roster. It runs
// message-echo pairing first and the naive heuristics over what is left.
// Ports that end up in no pair are closed again.
func (f *Finder) PossibleLinks(ctx context.Context, r *link.Roster, inputs, outputs []transport.Port) ([]*link.Link, error) {
	used := r.UsedPorts()
	inputs = f.openUnused(inputs, used)
	outputs = f.openUnused(outputs, used)
	if len(inputs) == 0 && len(outputs) == 0 {
		return nil, nil
	}

	pairs, err := f.EchoPairs(ctx, inputs, outputs)
	if err != nil {
		f.closeUnpaired(inputs, outputs, pairs)
		return nil, err
	}

	restIn, restOut := remaining(inputs, outputs, pairs)
	pairs = append(pairs, NaivePairs(restIn, restOut)...)

	f.closeUnpaired(inputs, outputs, pairs)

	links := make([]*link.Link, 0, len(pairs))
	for _, p := range pairs {
		l := link.New(p.Input, p.Output, p.Method)
		f.log.Debug().
			Uint64("link_runtime_id", l.RuntimeID()).
			Str("input", p.Input.ID).
			Str("output", p.Output.ID).
			Str("method", string(p.Method)).
			Msg("link paired")
		links = append(links, l)
	}
	return links, nil
}

// EchoPairs confirms pairs over the cross product of inputs and outputs.
// The first confirmed pair wins; every other candidate sharing its input
// or output is dropped.
func (f *Finder) EchoPairs(ctx context.Context, inputs, outputs []transport.Port) ([]Pair, error) {
	type candidate struct{ in, out transport.Port }

	work := make([]candidate, 0, len(inputs)*len(outputs))
	for _, in := range inputs {
		for _, out := range outputs {
			work = append(work, candidate{in, out})
		}
	}

	claimed := make(map[string]bool)
	var pairs []Pair

	for len(work) > 0 {
		c := work[0]
		work = work[1:]
		if claimed[c.in.ID] || claimed[c.out.ID] {
			continue
		}

		ok, err := f.echo.Echo(ctx, c.in, c.out)
		if err != nil {
			if ctx.Err() != nil {
				return pairs, ctx.Err()
			}
			f.log.Debug().Err(err).Str("input", c.in.ID).Str("output", c.out.ID).Msg("echo failed")
			continue
		}
		if !ok {
			continue
		}

		claimed[c.in.ID] = true
		claimed[c.out.ID] = true
		pairs = append(pairs, Pair{Input: c.in, Output: c.out, Method: link.MethodEcho})
	}

	return pairs, nil
}

// NaivePairs pairs ports without talking to them: a single input with a
// single output, otherwise every version bucket holding exactly one input
// and one output. Ports without a version are never paired by bucket.
func NaivePairs(inputs, outputs []transport.Port) []Pair {
	if len(inputs) == 1 && len(outputs) == 1 {
		return []Pair{{Input: inputs[0], Output: outputs[0], Method: link.MethodNaiveSingle}}
	}

	type bucket struct{ in, out []transport.Port }
	buckets := make(map[string]*bucket)
	var order []string

	get := func(version string) *bucket {
		b := buckets[version]
		if b == nil {
			b = &bucket{}
			buckets[version] = b
			order = append(order, version)
		}
		return b
	}
	for _, in := range inputs {
		if in.Version != "" {
			b := get(in.Version)
			b.in = append(b.in, in)
		}
	}
	for _, out := range outputs {
		if out.Version != "" {
			b := get(out.Version)
			b.out = append(b.out, out)
		}
	}

	var pairs []Pair
	for _, v := range order {
		b := buckets[v]
		if len(b.in) == 1 && len(b.out) == 1 {
			pairs = append(pairs, Pair{Input: b.in[0], Output: b.out[0], Method: link.MethodNaiveVersion})
		}
	}
	return pairs
}

func (f *Finder) openUnused(ports []transport.Port, used map[string]bool) []transport.Port {
	out := make([]transport.Port, 0, len(ports))
	for _, p := range ports {
		if used[p.ID] {
			continue
		}
		if err := f.transport.Open(p); err != nil {
			f.log.Debug().Err(err).Str("port", p.ID).Msg("open failed")
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *Finder) closeUnpaired(inputs, outputs []transport.Port, pairs []Pair) {
	paired := make(map[string]bool, 2*len(pairs))
	for _, p := range pairs {
		paired[p.Input.ID] = true
		paired[p.Output.ID] = true
	}
	for _, p := range append(append([]transport.Port(nil), inputs...), outputs...) {
		if paired[p.ID] {
			continue
		}
		if err := f.transport.Close(p); err != nil {
			f.log.Debug().Err(err).Str("port", p.ID).Msg("close failed")
		}
	}
}

func remaining(inputs, outputs []transport.Port, pairs []Pair) (restIn, restOut []transport.Port) {
	paired := make(map[string]bool, 2*len(pairs))
	for _, p := range pairs {
		paired[p.Input.ID] = true
		paired[p.Output.ID] = true
	}
	for _, p := range inputs {
		if !paired[p.ID] {
			restIn = append(restIn, p)
		}
	}
	for _, p := range outputs {
		if !paired[p.ID] {
			restOut = append(restOut, p)
		}
	}
	return restIn, restOut
}
