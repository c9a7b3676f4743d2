package engine

// Bus is a connection point in the compiled circuit. Buses are created
// implicitly the first time an element references them.
type Bus struct {
	Name      string
	KVBase    float64
	Nodes     []int
	VMagPU    float64
	VAngleDeg float64
}

// Line connects two buses with a series impedance in ohms.
type Line struct {
	Name    string
	Bus1    string
	Bus2    string
	R       float64
	X       float64
	Enabled bool
}

// Load is a power consumer attached to a single bus.
type Load struct {
	Name    string
	Bus1    string
	Nodes   []int
	KV      float64
	KW      float64
	KVAR    float64
	Phases  int
	Model   int
	Conn    string
	Enabled bool
}

// Generator is a power producer attached to a single bus.
type Generator struct {
	Name    string
	Bus1    string
	Nodes   []int
	KV      float64
	KW      float64
	KVAR    float64
	PF      float64
	Phases  int
	Model   int
	Enabled bool
}

// Transformer is a two-winding transformer between a primary and a
// secondary bus. FlowKW/FlowKVAR hold the primary-terminal power from
// the last solution.
type Transformer struct {
	Name     string
	Buses    []string
	KVs      []float64
	KVAs     []float64
	Conns    []string
	XHL      float64
	Phases   int
	Windings int
	Enabled  bool
	FlowKW   float64
	FlowKVAR float64
}

// RegControl is a voltage regulator control. The solver only honors its
// enabled flag; disabled regulators are skipped during the sweep.
type RegControl struct {
	Name    string
	Enabled bool
}

// RatedKVA returns the transformer's nameplate rating, taken from the
// first winding.
func (t Transformer) RatedKVA() float64 {
	if len(t.KVAs) == 0 {
		return 0
	}
	return t.KVAs[0]
}
