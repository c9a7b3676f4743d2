package circuit

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Neighborhoods returns the neighborhood to bus table.
func (c *Circuit) Neighborhoods() map[int][]string {
	c.mux.Lock()
	defer c.mux.Unlock()
	out := make(map[int][]string, len(c.neighborhoods))
	for id, buses := range c.neighborhoods {
		out[id] = append([]string(nil), buses...)
	}
	return out
}

// NeighborhoodOf returns the neighborhood id the bus belongs to, or -1.
func (c *Circuit) NeighborhoodOf(bus string) int {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	for id, buses := range c.neighborhoods {
		if contains(buses, bus) {
			return id
		}
	}
	return -1
}

// TransformerStatuses returns the loading table from the last managed
// solve, sorted by transformer name.
func (c *Circuit) TransformerStatuses() []TransformerStatus {
	c.mux.Lock()
	defer c.mux.Unlock()
	out := make([]TransformerStatus, 0, len(c.xfmrStatuses))
	for _, ts := range c.xfmrStatuses {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PowerFlowResults returns the solver-level result of the last
// solution.
func (c *Circuit) PowerFlowResults() PowerFlowResults {
	c.mux.Lock()
	defer c.mux.Unlock()
	return PowerFlowResults{
		Converged:     c.eng.Converged(),
		TotalPowerKW:  round(c.eng.TotalPowerKW(), 2),
		TotalLossesKW: round(c.eng.LossesKW(), 2),
	}
}

// CapacityInfo reports the aggregate transformer rating and the design
// load limit derived from it.
func (c *Circuit) CapacityInfo() CapacityInfo {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.capacityInfo()
}

func (c *Circuit) capacityInfo() CapacityInfo {
	totalKVA := 0.0
	for _, tr := range c.eng.Transformers() {
		if tr.Enabled {
			totalKVA += tr.RatedKVA()
		}
	}
	return CapacityInfo{
		MaxCircuitPowerKVA: totalKVA,
		MaxCircuitLoadKW:   round(totalKVA*0.95, 2),
	}
}

// BusDetails assembles the per-bus report rows for every primary bus.
// Transformer secondary buses are internal wiring and are skipped.
func (c *Circuit) BusDetails() []BusDetail {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.busDetails()
}

func (c *Circuit) busDetails() []BusDetail {
	var details []BusDetail
	for _, name := range c.eng.AllBusNames() {
		if strings.HasSuffix(name, "_sec") {
			continue
		}
		details = append(details, c.singleBusDetail(name))
	}
	return details
}

// SingleBusDetails returns the report row for one bus.
func (c *Circuit) SingleBusDetails(bus string) (BusDetail, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return BusDetail{}, fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	return c.singleBusDetail(bus), nil
}

func (c *Circuit) singleBusDetail(bus string) BusDetail {
	info, _ := c.eng.BusInfo(bus)

	loadKW, genKW := 0.0, 0.0
	for loadName, origBus := range c.loadOriginalBus {
		if origBus != bus {
			continue
		}
		if ld, ok := c.eng.LoadInfo(loadName); ok && ld.Enabled {
			loadKW += ld.KW
		}
	}
	for _, g := range c.eng.Generators() {
		if !g.Enabled {
			continue
		}
		gbus, _, _ := strings.Cut(g.Bus1, ".")
		if gbus == bus {
			genKW += g.EffectiveKW()
		}
	}

	detail := BusDetail{
		Bus:        bus,
		VMagPU:     round(info.VMagPU, 4),
		VAngle:     round(info.VAngleDeg, 2),
		LoadKW:     round(loadKW, 2),
		GenKW:      round(genKW, 2),
		NetPowerKW: round(loadKW-genKW, 2),
		Devices:    append([]Device(nil), c.devices[bus]...),
		DFPs:       c.dfps.SubscriptionFlags(bus),
	}
	for _, xfmrName := range c.busTransformers[bus] {
		if ts, ok := c.xfmrStatuses[xfmrName]; ok {
			detail.Transformers = append(detail.Transformers, ts)
		}
	}
	keys := make([]string, 0, len(c.storage))
	for k := range c.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if c.storage[k].Bus == bus {
			detail.StorageDevices = append(detail.StorageDevices, *c.storage[k])
		}
	}
	return detail
}

// powerSummary aggregates the circuit-level quantities of the last
// solution. Load and generation totals come from the capacity ledger,
// so they track the mutation history rather than the raw element table.
// Caller holds the mutex.
func (c *Circuit) powerSummary() PowerSummary {
	capInfo := c.capacityInfo()
	totalLoad, totalGen := 0.0, 0.0
	for _, cp := range c.busCapacities {
		totalLoad += cp.LoadKW
		totalGen += cp.GenKW
	}
	loading := 0.0
	if capInfo.MaxCircuitLoadKW > 0 {
		loading = totalLoad / capInfo.MaxCircuitLoadKW * 100
	}
	return PowerSummary{
		Converged:             c.eng.Converged(),
		TotalCircuitPowerKW:   round(c.eng.TotalPowerKW(), 2),
		TotalLossesKW:         round(c.eng.LossesKW(), 2),
		TotalLoadKW:           round(totalLoad, 2),
		TotalGenKW:            round(totalGen, 2),
		MaxCircuitPowerKVA:    capInfo.MaxCircuitPowerKVA,
		MaxCircuitLoadKW:      capInfo.MaxCircuitLoadKW,
		CircuitLoadingPercent: round(loading, 2),
	}
}

// voltageProfile summarizes the voltage spread over buses with a
// nonzero solved magnitude. Caller holds the mutex.
func (c *Circuit) voltageProfile() VoltageProfile {
	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	n := 0
	for _, name := range c.eng.AllBusNames() {
		info, _ := c.eng.BusInfo(name)
		if info.VMagPU == 0 {
			continue
		}
		minV = math.Min(minV, info.VMagPU)
		maxV = math.Max(maxV, info.VMagPU)
		sum += info.VMagPU
		n++
	}
	if n == 0 {
		return VoltageProfile{}
	}
	return VoltageProfile{
		MinVoltagePU: round(minV, 4),
		MaxVoltagePU: round(maxV, 4),
		AvgVoltagePU: round(sum/float64(n), 4),
	}
}

// StateDetails assembles the full circuit state report from the last
// managed solve.
func (c *Circuit) StateDetails(mgmt ManagementResult) StateDetails {
	c.mux.Lock()
	defer c.mux.Unlock()
	neighborhoods := make(map[int][]string, len(c.neighborhoods))
	for id, buses := range c.neighborhoods {
		neighborhoods[id] = append([]string(nil), buses...)
	}
	return StateDetails{
		ManagementStatus: mgmt,
		DFPRegistry:      c.dfps.Programs(),
		PowerSummary:     c.powerSummary(),
		VoltageProfile:   c.voltageProfile(),
		Neighborhoods:    neighborhoods,
		BusDetails:       c.busDetails(),
	}
}
