package circuit

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/gridflex/flexsim/internal/pkg/msg"
)

func newTestCircuit(t *testing.T) *Circuit {
	t.Helper()
	c, err := New("circuit_test_config.json")
	assert.NilError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c := newTestCircuit(t)

	// Neighborhood transformers are in place and rated.
	info := c.CapacityInfo()
	assert.Equal(t, info.MaxCircuitPowerKVA, 600.0)
	assert.Equal(t, info.MaxCircuitLoadKW, 570.0)

	// Report rows cover primary buses only; secondaries are wiring.
	for _, d := range c.BusDetails() {
		assert.Assert(t, d.Bus != "b2_sec" && d.Bus != "b3_sec", "bus %s", d.Bus)
	}
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New("nosuch_config.json")
	assert.Assert(t, err != nil)
}

func TestSolveAndManageShedsOverload(t *testing.T) {
	c := newTestCircuit(t)

	// The 400 kW neighborhood exceeds its 300 kVA transformer, so the
	// manager sheds it down within rating. Once the shedding lands, the
	// run counts as OK, with the corrective actions in the log.
	result := c.SolveAndManage(10)
	assert.Equal(t, result.Status, ManageOK)
	assert.Assert(t, len(result.ManagementLog) > 0)
	last := result.ManagementLog[len(result.ManagementLog)-1]
	assert.Assert(t, strings.Contains(last, "stabilized"), last)

	for _, ts := range c.TransformerStatuses() {
		assert.Assert(t, ts.LoadingPercent <= 100, "%s at %.1f%%", ts.Name, ts.LoadingPercent)
	}
}

func TestSolveAndManageAlertsWhenCapExhausted(t *testing.T) {
	c := newTestCircuit(t)

	result := c.SolveAndManage(1)
	assert.Equal(t, result.Status, ManageAlert)
	last := result.ManagementLog[len(result.ManagementLog)-1]
	assert.Assert(t, strings.Contains(last, "could not be stabilized"), last)
}

func TestSolveAndManageOKWhenUnloaded(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.ModifyNeighborhoodLoads(2, 0.5)
	assert.NilError(t, err)

	result := c.SolveAndManage(10)
	assert.Equal(t, result.Status, ManageOK)
	assert.Equal(t, len(result.ManagementLog), 0)
}

func TestModifyNeighborhoodLoadsUnknown(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.ModifyNeighborhoodLoads(99, 0.5)
	assert.Assert(t, err != nil)
}

func TestModifyBusLoadsUsesOriginalBus(t *testing.T) {
	c := newTestCircuit(t)

	// ld_b3 was rewired behind the neighborhood transformer but stays
	// addressable by its upstream bus.
	changed, err := c.ModifyBusLoads("b3", 0.5)
	assert.NilError(t, err)
	assert.Equal(t, changed, 1)

	detail, err := c.SingleBusDetails("b3")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 200.0)
}

func TestDevices(t *testing.T) {
	c := newTestCircuit(t)
	assert.NilError(t, c.AddDevice("b2", "ev_charger", 11))
	assert.NilError(t, c.AddDevice("b2", "heat_pump", 4))

	err := c.AddDevice("b2", "ev_charger", 7)
	assert.Assert(t, err != nil)

	detail, err := c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, len(detail.Devices), 2)
	assert.Equal(t, detail.LoadKW, 215.0)

	assert.NilError(t, c.DisconnectDevice("b2", "ev_charger"))
	detail, err = c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, len(detail.Devices), 1)
	assert.Equal(t, detail.LoadKW, 204.0)

	summary := c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 604.0)

	err = c.DisconnectDevice("b2", "ev_charger")
	assert.Assert(t, err != nil)
}

func TestAddDeviceRequiresNeighborhood(t *testing.T) {
	c := newTestCircuit(t)
	err := c.AddDevice("b1", "ev_charger", 11)
	assert.Assert(t, err != nil, "b1 has no neighborhood transformer")
}

func TestAddDeviceLoadsServiceTransformer(t *testing.T) {
	c := newTestCircuit(t)
	c.SolveAndManage(10)

	before := 0.0
	for _, ts := range c.TransformerStatuses() {
		if ts.Name == "xfmr_neigh_1" {
			before = ts.CurrentKVA
		}
	}
	assert.Assert(t, before > 0)

	// The device lands behind the neighborhood transformer at service
	// voltage, still keyed to the bus it was requested on.
	assert.NilError(t, c.AddDevice("b2", "ev_charger", 90))
	ld, ok := c.eng.LoadInfo("dev_b2_ev_charger")
	assert.Assert(t, ok)
	assert.Equal(t, ld.Bus1, "b2_sec")
	assert.Equal(t, ld.KV, 0.24)

	c.SolveAndManage(10)
	after := 0.0
	for _, ts := range c.TransformerStatuses() {
		if ts.Name == "xfmr_neigh_1" {
			after = ts.CurrentKVA
		}
	}
	assert.Assert(t, after > before, "transformer flow %.2f kVA -> %.2f kVA", before, after)
}

func TestModifyHighWattageDevices(t *testing.T) {
	c := newTestCircuit(t)
	assert.NilError(t, c.AddDevice("b2", "ev_charger", 11))
	assert.NilError(t, c.AddDevice("b2", "lighting", 1))

	changed, err := c.ModifyHighWattageDevices("b2", 10, 0.5)
	assert.NilError(t, err)
	assert.DeepEqual(t, changed, []string{"ev_charger"})

	detail, err := c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 206.5)
}

func TestAddGenerationThreePhase(t *testing.T) {
	c := newTestCircuit(t)
	name, err := c.AddGeneration("b2", 150, 3)
	assert.NilError(t, err)
	assert.Equal(t, name, "gen_b2_3ph")

	detail, err := c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, detail.GenKW, 150.0)
}

func TestAddGenerationSinglePhaseDoublesSetpoint(t *testing.T) {
	c := newTestCircuit(t)
	name, err := c.AddGeneration("b2", 100, 1)
	assert.NilError(t, err)
	assert.Equal(t, name, "gen_b2_1ph")

	// The nameplate is doubled so the delivered power matches the
	// request, but every report shows the delivered figure.
	gen, ok := c.eng.GeneratorInfo("gen_b2_1ph")
	assert.Assert(t, ok)
	assert.Equal(t, gen.KW, 200.0)

	c.SolveAndManage(10)
	detail, err := c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, detail.GenKW, 100.0)

	summary := c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalGenKW, 100.0)
}

func TestAddGenerationExistingRetargets(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.AddGeneration("b2", 150, 3)
	assert.NilError(t, err)
	name, err := c.AddGeneration("b2", 80, 3)
	assert.NilError(t, err)
	assert.Equal(t, name, "gen_b2_3ph")

	detail, err := c.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, detail.GenKW, 80.0)
}

func TestAddGenerationBadPhases(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.AddGeneration("b2", 100, 2)
	assert.Assert(t, err != nil)
}

func TestPowerSummaryTracksMutations(t *testing.T) {
	c := newTestCircuit(t)

	// The inventory taken at compile time covers the master file loads.
	summary := c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 600.0)
	assert.Equal(t, summary.TotalGenKW, 0.0)

	assert.NilError(t, c.AddDevice("b2", "ev_charger", 50))
	_, err := c.AddGeneration("b3", 75, 3)
	assert.NilError(t, err)
	_, err = c.ModifyBusLoads("b3", 0.5)
	assert.NilError(t, err)

	summary = c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 450.0)
	assert.Equal(t, summary.TotalGenKW, 75.0)

	// Retargeting existing generation replaces its ledger entry.
	_, err = c.AddGeneration("b3", 40, 3)
	assert.NilError(t, err)
	summary = c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalGenKW, 40.0)
}

func TestStorageLifecycle(t *testing.T) {
	c := newTestCircuit(t)
	assert.NilError(t, c.AddStorage("b2", "battery1", 100, 20, 25))

	sd, err := c.ToggleStorage("battery1", ModeCharging)
	assert.NilError(t, err)
	assert.Equal(t, sd.Mode, ModeCharging)
	assert.Equal(t, sd.CurrentEnergyKWh, 70.0)

	detail, _ := c.SingleBusDetails("b2")
	assert.Equal(t, len(detail.StorageDevices), 1)

	sd, err = c.ToggleStorage("battery1", ModeDischarging)
	assert.NilError(t, err)
	assert.Equal(t, sd.Mode, ModeDischarging)
	assert.Equal(t, sd.CurrentEnergyKWh, 45.0)

	detail, _ = c.SingleBusDetails("b2")
	assert.Equal(t, detail.GenKW, 25.0)

	sd, err = c.ToggleStorage("battery1", ModeIdle)
	assert.NilError(t, err)
	assert.Equal(t, sd.Mode, ModeIdle)

	detail, _ = c.SingleBusDetails("b2")
	assert.Equal(t, detail.GenKW, 0.0)
}

func TestToggleStorageUnknown(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.ToggleStorage("nosuch", ModeCharging)
	assert.Assert(t, err != nil)
}

func TestNodes(t *testing.T) {
	c := newTestCircuit(t)
	assert.NilError(t, c.AddNode("b9", 1, [2]float64{10, 20}, []string{"b1"}, 50, 10))

	detail, err := c.SingleBusDetails("b9")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 50.0)
	assert.Assert(t, contains(c.Neighborhoods()[1], "b9"))

	kw := 120.0
	changed, err := c.ModifyNode("b9", &kw, nil)
	assert.NilError(t, err)
	assert.Equal(t, changed, 1)
	detail, _ = c.SingleBusDetails("b9")
	assert.Equal(t, detail.LoadKW, 120.0)
	summary := c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 720.0)

	err = c.DeleteNode("b1")
	assert.Assert(t, err != nil, "base circuit buses are not deletable")

	assert.NilError(t, c.DeleteNode("b9"))
	detail, err = c.SingleBusDetails("b9")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 0.0)
	assert.Assert(t, !contains(c.Neighborhoods()[1], "b9"))
}

func TestAddNodeDuplicate(t *testing.T) {
	c := newTestCircuit(t)
	err := c.AddNode("b2", 1, [2]float64{0, 0}, []string{"b1"}, 0, 0)
	assert.Assert(t, err != nil)
}

func TestAddNodeUnknownNeighborhood(t *testing.T) {
	c := newTestCircuit(t)
	err := c.AddNode("b9", 42, [2]float64{0, 0}, []string{"b1"}, 0, 0)
	assert.Assert(t, err != nil)
}

func TestExecuteDFP(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.DFPs().Register("peak_shave", "evening curtailment", 100, 0.98)
	assert.NilError(t, err)
	assert.NilError(t, c.DFPs().Subscribe("b3", "peak_shave"))

	participations, err := c.ExecuteDFP("peak_shave")
	assert.NilError(t, err)
	assert.Equal(t, len(participations), 1)
	assert.Equal(t, participations[0].Bus, "b3")
	assert.Equal(t, participations[0].BeforeKW, 400.0)
	assert.Equal(t, participations[0].AfterKW, 100.0)
	assert.Equal(t, participations[0].CurtailedKW, 300.0)

	detail, err := c.SingleBusDetails("b3")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 100.0)

	summary := c.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 300.0)

	// Below the floor now, so a second run is a no-op.
	participations, err = c.ExecuteDFP("peak_shave")
	assert.NilError(t, err)
	assert.Equal(t, len(participations), 0)
}

func TestExecuteDFPUnknown(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.ExecuteDFP("nosuch")
	assert.Assert(t, err != nil)
}

func TestSendDFPToNeighborhood(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.DFPs().Register("peak_shave", "", 100, 0.98)
	assert.NilError(t, err)

	enrolled, err := c.SendDFPToNeighborhood(2, "peak_shave")
	assert.NilError(t, err)
	assert.DeepEqual(t, enrolled, []string{"b3"})
	assert.DeepEqual(t, c.DFPs().Subscribers("peak_shave"), []string{"b3"})
}

func TestStateDetails(t *testing.T) {
	c := newTestCircuit(t)
	result := c.SolveAndManage(10)
	details := c.StateDetails(result)

	assert.Assert(t, details.PowerSummary.Converged)
	assert.Assert(t, details.PowerSummary.TotalCircuitPowerKW > 0)
	assert.Equal(t, details.PowerSummary.MaxCircuitPowerKVA, 600.0)
	assert.Assert(t, details.VoltageProfile.MinVoltagePU > 0)
	assert.Assert(t, details.VoltageProfile.MaxVoltagePU >= details.VoltageProfile.MinVoltagePU)
	assert.Equal(t, len(details.Neighborhoods), 2)
	assert.Assert(t, len(details.BusDetails) > 0)
}

func TestStateRoundTrip(t *testing.T) {
	c := newTestCircuit(t)
	assert.NilError(t, c.AddDevice("b2", "ev_charger", 11))
	_, err := c.AddGeneration("b3", 50, 3)
	assert.NilError(t, err)
	_, err = c.AddGeneration("b2", 100, 1)
	assert.NilError(t, err)
	_, err = c.DFPs().Register("peak_shave", "evening", 100, 0.98)
	assert.NilError(t, err)
	assert.NilError(t, c.DFPs().Subscribe("b3", "peak_shave"))

	raw, err := c.State()
	assert.NilError(t, err)

	restored := newTestCircuit(t)
	assert.NilError(t, restored.SetState(raw))

	detail, err := restored.SingleBusDetails("b2")
	assert.NilError(t, err)
	assert.Equal(t, len(detail.Devices), 1)
	assert.Equal(t, detail.LoadKW, 211.0)

	// The replayed single-phase generator keeps its model, so the
	// delivered figure still matches the original request.
	gen, ok := restored.eng.GeneratorInfo("gen_b2_1ph")
	assert.Assert(t, ok)
	assert.Equal(t, gen.Model, 3)
	assert.Equal(t, detail.GenKW, 100.0)

	detail, err = restored.SingleBusDetails("b3")
	assert.NilError(t, err)
	assert.Equal(t, detail.GenKW, 50.0)
	assert.DeepEqual(t, restored.DFPs().Subscribers("peak_shave"), []string{"b3"})

	summary := restored.StateDetails(ManagementResult{Status: ManageOK}).PowerSummary
	assert.Equal(t, summary.TotalLoadKW, 611.0)
	assert.Equal(t, summary.TotalGenKW, 150.0)
}

func TestReset(t *testing.T) {
	c := newTestCircuit(t)
	_, err := c.ModifyBusLoads("b3", 0.1)
	assert.NilError(t, err)
	assert.NilError(t, c.Reset())

	detail, err := c.SingleBusDetails("b3")
	assert.NilError(t, err)
	assert.Equal(t, detail.LoadKW, 400.0)
}

func TestPublishState(t *testing.T) {
	c := newTestCircuit(t)
	sub, err := uuid.NewUUID()
	assert.NilError(t, err)
	ch := c.Subscribe(sub, msg.Status)

	result := c.SolveAndManage(10)
	c.PublishState(c.StateDetails(result))

	m := <-ch
	details, ok := m.Payload().(StateDetails)
	assert.Assert(t, ok)
	assert.Assert(t, details.PowerSummary.Converged)
	c.Unsubscribe(sub)
}
