// Package engine is a snapshot power-flow solver driven through a
// DSS-style text-command surface. It stands in for the external
// distribution system simulator behind the same contract the rest of
// the system speaks: element creation and edits as text commands, then
// a solve, then accessor reads.
package engine

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ErrNoBuses is returned by Compile when the definition file produced
// an empty circuit.
var ErrNoBuses = errors.New("no buses found in compiled circuit")

// Engine holds the compiled circuit model and the last solution.
type Engine struct {
	mux          *sync.Mutex
	name         string
	sourceBus    string
	buses        map[string]*Bus
	lines        map[string]*Line
	loads        map[string]*Load
	generators   map[string]*Generator
	transformers map[string]*Transformer
	regcontrols  map[string]*RegControl
	options      map[string]string

	converged   bool
	totalLossKW float64
}

// New returns an empty Engine. Compile or Command must populate it
// before Solve produces anything useful.
func New() *Engine {
	e := &Engine{mux: &sync.Mutex{}}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.name = ""
	e.sourceBus = ""
	e.buses = make(map[string]*Bus)
	e.lines = make(map[string]*Line)
	e.loads = make(map[string]*Load)
	e.generators = make(map[string]*Generator)
	e.transformers = make(map[string]*Transformer)
	e.regcontrols = make(map[string]*RegControl)
	e.options = make(map[string]string)
	e.converged = false
	e.totalLossKW = 0
}

// Compile clears the model and executes every command in the circuit
// definition file at path. Lines starting with '!' or '//' are
// comments.
func (e *Engine) Compile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("compile %s: %w", path, err)
	}

	e.mux.Lock()
	defer e.mux.Unlock()
	e.reset()

	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "//") {
			continue
		}
		if err := e.command(line); err != nil {
			return fmt.Errorf("compile %s line %d: %w", path, i+1, err)
		}
	}

	if len(e.buses) == 0 {
		return fmt.Errorf("%w: %s", ErrNoBuses, path)
	}
	return nil
}

func (e *Engine) ensureBus(name string, kvBase float64) *Bus {
	name = strings.ToLower(name)
	if b, ok := e.buses[name]; ok {
		if b.KVBase == 0 && kvBase > 0 {
			b.KVBase = kvBase
		}
		return b
	}
	b := &Bus{Name: name, KVBase: kvBase, Nodes: []int{1, 2, 3}, VMagPU: 0}
	e.buses[name] = b
	return b
}

// CircuitName returns the name given by New Circuit.
func (e *Engine) CircuitName() string {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.name
}

// NumBuses returns the bus count of the compiled circuit.
func (e *Engine) NumBuses() int {
	e.mux.Lock()
	defer e.mux.Unlock()
	return len(e.buses)
}

// AllBusNames returns every bus name sorted for deterministic output.
func (e *Engine) AllBusNames() []string {
	e.mux.Lock()
	defer e.mux.Unlock()
	names := make([]string, 0, len(e.buses))
	for n := range e.buses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BusInfo returns a copy of the named bus.
func (e *Engine) BusInfo(name string) (Bus, bool) {
	e.mux.Lock()
	defer e.mux.Unlock()
	b, ok := e.buses[strings.ToLower(name)]
	if !ok {
		return Bus{}, false
	}
	cp := *b
	cp.Nodes = append([]int(nil), b.Nodes...)
	return cp, true
}

// Loads returns copies of every load, sorted by name.
func (e *Engine) Loads() []Load {
	e.mux.Lock()
	defer e.mux.Unlock()
	out := make([]Load, 0, len(e.loads))
	for _, ld := range e.loads {
		cp := *ld
		cp.Nodes = append([]int(nil), ld.Nodes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadInfo returns a copy of the named load.
func (e *Engine) LoadInfo(name string) (Load, bool) {
	e.mux.Lock()
	defer e.mux.Unlock()
	ld, ok := e.loads[strings.ToLower(name)]
	if !ok {
		return Load{}, false
	}
	return *ld, true
}

// Lines returns copies of every line, sorted by name.
func (e *Engine) Lines() []Line {
	e.mux.Lock()
	defer e.mux.Unlock()
	out := make([]Line, 0, len(e.lines))
	for _, ln := range e.lines {
		out = append(out, *ln)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Generators returns copies of every generator, sorted by name.
func (e *Engine) Generators() []Generator {
	e.mux.Lock()
	defer e.mux.Unlock()
	out := make([]Generator, 0, len(e.generators))
	for _, g := range e.generators {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GeneratorInfo returns a copy of the named generator.
func (e *Engine) GeneratorInfo(name string) (Generator, bool) {
	e.mux.Lock()
	defer e.mux.Unlock()
	g, ok := e.generators[strings.ToLower(name)]
	if !ok {
		return Generator{}, false
	}
	return *g, true
}

// GeneratorNames returns the names of every generator.
func (e *Engine) GeneratorNames() []string {
	e.mux.Lock()
	defer e.mux.Unlock()
	names := make([]string, 0, len(e.generators))
	for n := range e.generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Transformers returns copies of every transformer with their last
// solved terminal powers, sorted by name.
func (e *Engine) Transformers() []Transformer {
	e.mux.Lock()
	defer e.mux.Unlock()
	out := make([]Transformer, 0, len(e.transformers))
	for _, tr := range e.transformers {
		cp := *tr
		cp.Buses = append([]string(nil), tr.Buses...)
		cp.KVs = append([]float64(nil), tr.KVs...)
		cp.KVAs = append([]float64(nil), tr.KVAs...)
		cp.Conns = append([]string(nil), tr.Conns...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegControlNames returns the names of every regulator control.
func (e *Engine) RegControlNames() []string {
	e.mux.Lock()
	defer e.mux.Unlock()
	names := make([]string, 0, len(e.regcontrols))
	for n := range e.regcontrols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Converged reports whether the last Solve reached a solution.
func (e *Engine) Converged() bool {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.converged
}

// TotalPowerKW returns the real power injected at the source in the
// last solution: served load plus losses minus local generation.
func (e *Engine) TotalPowerKW() float64 {
	e.mux.Lock()
	defer e.mux.Unlock()
	loadKW, genKW := 0.0, 0.0
	for _, ld := range e.loads {
		if ld.Enabled {
			loadKW += ld.KW
		}
	}
	for _, g := range e.generators {
		if g.Enabled {
			genKW += g.EffectiveKW()
		}
	}
	return loadKW + e.totalLossKW - genKW
}

// TotalLoadKW returns the sum of all enabled load setpoints.
func (e *Engine) TotalLoadKW() float64 {
	e.mux.Lock()
	defer e.mux.Unlock()
	total := 0.0
	for _, ld := range e.loads {
		if ld.Enabled {
			total += ld.KW
		}
	}
	return total
}

// TotalGenKW returns the sum of all enabled generator setpoints.
func (e *Engine) TotalGenKW() float64 {
	e.mux.Lock()
	defer e.mux.Unlock()
	total := 0.0
	for _, g := range e.generators {
		if g.Enabled {
			total += g.EffectiveKW()
		}
	}
	return total
}

// LossesKW returns the series losses of the last solution.
func (e *Engine) LossesKW() float64 {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.totalLossKW
}

// Solve runs a snapshot power flow over the compiled circuit.
func (e *Engine) Solve() error {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.solve()
}
