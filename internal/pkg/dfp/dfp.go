// Package dfp holds the Demand Flexibility Program registry: named rule
// bundles (minimum power, target power factor) that subscribed buses
// respond to when a program executes.
package dfp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when an operation targets an unregistered program.
var ErrNotFound = errors.New("dfp not found")

// ErrDuplicate is returned when registering a program name twice.
var ErrDuplicate = errors.New("dfp already registered")

// validatePF rejects power factors outside (0, 1]. The curtailment
// math takes arccos of the value, which is undefined beyond that range.
func validatePF(targetPF float64) error {
	if targetPF <= 0 || targetPF > 1 {
		return fmt.Errorf("target power factor %v out of range (0, 1]", targetPF)
	}
	return nil
}

// Program is one Demand Flexibility Program rule bundle.
type Program struct {
	Index        int     `json:"index"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	MinPowerKW   float64 `json:"min_power_kw"`
	TargetPF     float64 `json:"target_pf"`
	RegisteredAt string  `json:"registered_at"`
}

// Registry is the program table plus per-bus subscriptions.
type Registry struct {
	mux           *sync.Mutex
	programs      []*Program
	subscriptions map[string]map[string]bool // bus -> program name
	now           func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mux:           &sync.Mutex{},
		subscriptions: make(map[string]map[string]bool),
		now:           time.Now,
	}
}

// Register adds a new program. The registered-at stamp and registry
// index are assigned here.
func (r *Registry) Register(name, description string, minPowerKW, targetPF float64) (Program, error) {
	if err := validatePF(targetPF); err != nil {
		return Program{}, err
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.find(name) != nil {
		return Program{}, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	p := &Program{
		Index:        len(r.programs) + 1,
		Name:         name,
		Description:  description,
		MinPowerKW:   minPowerKW,
		TargetPF:     targetPF,
		RegisteredAt: r.now().Format("2006-01-02 15:04:05"),
	}
	r.programs = append(r.programs, p)
	return *p, nil
}

// Update modifies an existing program. An empty description keeps the
// current one.
func (r *Registry) Update(name string, minPowerKW, targetPF float64, description string) (Program, error) {
	if err := validatePF(targetPF); err != nil {
		return Program{}, err
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	p := r.find(name)
	if p == nil {
		return Program{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.MinPowerKW = minPowerKW
	p.TargetPF = targetPF
	if description != "" {
		p.Description = description
	}
	return *p, nil
}

// Delete removes a program and every subscription to it. Remaining
// programs are reindexed to keep the index column dense.
func (r *Registry) Delete(name string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	idx := -1
	for i, p := range r.programs {
		if strings.EqualFold(p.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.programs = append(r.programs[:idx], r.programs[idx+1:]...)
	for i, p := range r.programs {
		p.Index = i + 1
	}
	for _, subs := range r.subscriptions {
		delete(subs, strings.ToLower(name))
	}
	return nil
}

// Program returns a copy of the named program.
func (r *Registry) Program(name string) (Program, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	p := r.find(name)
	if p == nil {
		return Program{}, false
	}
	return *p, true
}

// Programs returns copies of every program in registration order.
func (r *Registry) Programs() []Program {
	r.mux.Lock()
	defer r.mux.Unlock()
	out := make([]Program, 0, len(r.programs))
	for _, p := range r.programs {
		out = append(out, *p)
	}
	return out
}

// Subscribe enrolls a bus in a program.
func (r *Registry) Subscribe(bus, name string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.find(name) == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	bus = strings.ToLower(bus)
	if _, ok := r.subscriptions[bus]; !ok {
		r.subscriptions[bus] = make(map[string]bool)
	}
	r.subscriptions[bus][strings.ToLower(name)] = true
	return nil
}

// Unsubscribe removes a bus from a program.
func (r *Registry) Unsubscribe(bus, name string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.find(name) == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.subscriptions[strings.ToLower(bus)], strings.ToLower(name))
	return nil
}

// Subscribers returns the buses enrolled in a program, sorted.
func (r *Registry) Subscribers(name string) []string {
	r.mux.Lock()
	defer r.mux.Unlock()
	name = strings.ToLower(name)
	var buses []string
	for bus, subs := range r.subscriptions {
		if subs[name] {
			buses = append(buses, bus)
		}
	}
	sort.Strings(buses)
	return buses
}

// SubscriptionFlags returns one 0/1 flag per registered program, in
// index order, for the given bus.
func (r *Registry) SubscriptionFlags(bus string) []int {
	r.mux.Lock()
	defer r.mux.Unlock()
	subs := r.subscriptions[strings.ToLower(bus)]
	flags := make([]int, len(r.programs))
	for i, p := range r.programs {
		if subs[strings.ToLower(p.Name)] {
			flags[i] = 1
		}
	}
	return flags
}

// Snapshot returns the registry contents for state serialization:
// programs in index order and the bus to program-name subscription
// table.
func (r *Registry) Snapshot() ([]Program, map[string][]string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	programs := make([]Program, 0, len(r.programs))
	for _, p := range r.programs {
		programs = append(programs, *p)
	}
	subs := make(map[string][]string, len(r.subscriptions))
	for bus, names := range r.subscriptions {
		var list []string
		for name, on := range names {
			if on {
				list = append(list, name)
			}
		}
		sort.Strings(list)
		subs[bus] = list
	}
	return programs, subs
}

// Restore replaces the registry contents with a previously taken
// snapshot, preserving indexes and registration stamps.
func (r *Registry) Restore(programs []Program, subs map[string][]string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.programs = make([]*Program, 0, len(programs))
	for i := range programs {
		p := programs[i]
		r.programs = append(r.programs, &p)
	}
	r.subscriptions = make(map[string]map[string]bool, len(subs))
	for bus, names := range subs {
		table := make(map[string]bool, len(names))
		for _, name := range names {
			table[strings.ToLower(name)] = true
		}
		r.subscriptions[strings.ToLower(bus)] = table
	}
}

func (r *Registry) find(name string) *Program {
	for _, p := range r.programs {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}
