package engine

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func buildTestFeeder(t *testing.T) *Engine {
	t.Helper()
	e := New()
	cmds := []string{
		"New Circuit.testfeeder basekv=4.16 Bus1=sourcebus",
		"New Line.l1 Bus1=sourcebus Bus2=b1 R1=0.05 X1=0.10",
		"New Line.l2 Bus1=b1 Bus2=b2 R1=0.05 X1=0.10",
		"New Line.l3 Bus1=b1 Bus2=b3 R1=0.08 X1=0.12",
		"New Load.ld_b2 Bus1=b2 Phases=1 kV=4.16 kW=200 kvar=50 Model=1",
		"New Load.ld_b3 Bus1=b3 Phases=1 kV=4.16 kW=400 kvar=100 Model=1",
	}
	for _, cmd := range cmds {
		assert.NilError(t, e.Command(cmd))
	}
	return e
}

func TestNewCircuitCommand(t *testing.T) {
	e := buildTestFeeder(t)
	assert.Equal(t, e.CircuitName(), "testfeeder")
	assert.Equal(t, e.NumBuses(), 4)

	bus, ok := e.BusInfo("sourcebus")
	assert.Assert(t, ok)
	assert.Equal(t, bus.KVBase, 4.16)
}

func TestKVBasePropagatesThroughLines(t *testing.T) {
	e := buildTestFeeder(t)
	for _, name := range []string{"b1", "b2", "b3"} {
		bus, ok := e.BusInfo(name)
		assert.Assert(t, ok)
		assert.Equal(t, bus.KVBase, 4.16, "bus %s", name)
	}
}

func TestEditCommand(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Command("edit Load.ld_b2 kW=350 kvar=80"))

	ld, ok := e.LoadInfo("ld_b2")
	assert.Assert(t, ok)
	assert.Equal(t, ld.KW, 350.0)
	assert.Equal(t, ld.KVAR, 80.0)
}

func TestEditUnknownElement(t *testing.T) {
	e := buildTestFeeder(t)
	err := e.Command("edit Load.nosuch kW=1")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestDirectPropertyAssignment(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Command("New Generator.gen_b2 Bus1=b2 Phases=3 kV=4.16 kW=100 PF=1.0 Model=1"))
	assert.NilError(t, e.Command("Generator.gen_b2.kW=250"))

	gen, ok := e.GeneratorInfo("gen_b2")
	assert.Assert(t, ok)
	assert.Equal(t, gen.KW, 250.0)
}

func TestUnknownVerb(t *testing.T) {
	e := New()
	err := e.Command("explode Load.ld_b2")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestTransformerSetsSecondaryKVBase(t *testing.T) {
	e := buildTestFeeder(t)
	cmd := "New Transformer.xfmr_neigh_1 Phases=1 XHL=5.6 windings=2 " +
		"Buses=[b2, b2_sec] kVs=[4.16, 0.24] kVAs=[300, 300] Conns=[Wye, Wye]"
	assert.NilError(t, e.Command(cmd))

	bus, ok := e.BusInfo("b2_sec")
	assert.Assert(t, ok)
	assert.Equal(t, bus.KVBase, 0.24)

	trs := e.Transformers()
	assert.Equal(t, len(trs), 1)
	assert.Equal(t, trs[0].RatedKVA(), 300.0)
}

func TestSolveRadialFeeder(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Solve())
	assert.Assert(t, e.Converged())

	// Source power covers both loads plus series losses.
	total := e.TotalPowerKW()
	assert.Assert(t, total > 600, "total %f", total)
	assert.Assert(t, e.LossesKW() > 0)

	// Voltage sags monotonically away from the source.
	src, _ := e.BusInfo("sourcebus")
	b1, _ := e.BusInfo("b1")
	b3, _ := e.BusInfo("b3")
	assert.Equal(t, src.VMagPU, 1.0)
	assert.Assert(t, b1.VMagPU < src.VMagPU)
	assert.Assert(t, b3.VMagPU < b1.VMagPU)
}

func TestSolveWithGeneration(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Solve())
	before := e.TotalPowerKW()

	assert.NilError(t, e.Command("New Generator.gen_b3 Bus1=b3 Phases=3 kV=4.16 kW=300 PF=1.0 Model=1"))
	assert.NilError(t, e.Solve())
	after := e.TotalPowerKW()
	assert.Assert(t, after < before-250, "before %f after %f", before, after)
}

func TestSinglePhaseModel3HalfDelivery(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Solve())
	before := e.TotalPowerKW()

	// A single-phase constant-power unit injects half its setpoint.
	assert.NilError(t, e.Command("New Generator.gen_1ph Bus1=b3.1 Phases=1 kV=2.4 kW=200 PF=1.0 Model=3"))
	assert.NilError(t, e.Solve())
	delivered := before - e.TotalPowerKW()
	assert.Assert(t, math.Abs(delivered-100) < 15, "delivered %f", delivered)
}

func TestDisabledLoadIsNotServed(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Command("edit Load.ld_b3 enabled=no"))
	assert.NilError(t, e.Solve())
	assert.Assert(t, e.Converged())
	assert.Assert(t, e.TotalPowerKW() < 250)
}

func TestDisabledLineBreaksConvergence(t *testing.T) {
	e := buildTestFeeder(t)
	assert.NilError(t, e.Command("edit Line.l3 enabled=no"))
	assert.NilError(t, e.Solve())
	assert.Assert(t, !e.Converged())
}

func TestCompile(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "master.dss")
	contents := `! test feeder
New Circuit.compiled basekv=12.47 Bus1=src
New Line.l1 Bus1=src Bus2=a R1=0.05 X1=0.10
// inline comment style
New Load.ld_a Bus1=a kV=12.47 kW=150 Model=1
Set VoltageBases=[12.47]
calcvoltagebases
Solve
`
	assert.NilError(t, os.WriteFile(master, []byte(contents), 0644))

	e := New()
	assert.NilError(t, e.Compile(master))
	assert.Equal(t, e.CircuitName(), "compiled")
	assert.Equal(t, e.NumBuses(), 2)
	assert.Assert(t, e.Converged())
}

func TestCompileEmptyCircuit(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "empty.dss")
	assert.NilError(t, os.WriteFile(master, []byte("! nothing here\n"), 0644))

	e := New()
	err := e.Compile(master)
	assert.ErrorIs(t, err, ErrNoBuses)
}

func TestTokenizeBracketLists(t *testing.T) {
	tokens := tokenize(`New Transformer.t1 Buses=[b1, b1_sec] kVs=[4.16, 0.24]`)
	assert.Equal(t, len(tokens), 4)
	assert.Equal(t, tokens[2], "Buses=[b1, b1_sec]")
	assert.Equal(t, tokens[3], "kVs=[4.16, 0.24]")
}

func TestSplitBusRef(t *testing.T) {
	name, nodes := splitBusRef("B12.1.2.3")
	assert.Equal(t, name, "b12")
	assert.DeepEqual(t, nodes, []int{1, 2, 3})

	name, nodes = splitBusRef("plain")
	assert.Equal(t, name, "plain")
	assert.Equal(t, len(nodes), 0)
}
