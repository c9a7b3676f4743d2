package solar

import "math"

// exportCreditRatio is the fraction of the dynamic price paid for
// community exports back to the station.
const exportCreditRatio = 0.8

// monitorGridStatus sums importing communities against the station's
// capacity. Stability is 1.0 up to 80% utilization and degrades linearly
// to 0.5 at full load.
func monitorGridStatus(g *GridStation, communities []Community) (float64, float64) {
	totalLoad := 0.0
	for i := range communities {
		if communities[i].GridStationID != g.ID {
			continue
		}
		totalLoad += math.Max(0, communities[i].PowerBalanceKWh)
	}

	available := math.Max(0, g.MaxCapacityKW-totalLoad)
	utilization := 0.0
	if g.MaxCapacityKW > 0 {
		utilization = totalLoad / g.MaxCapacityKW
	}
	stability := 1.0 - math.Min(math.Max((utilization-0.8)*5, 0), 0.5)

	return available, stability
}

// dynamicPrice scales the base price by capacity pressure, stability and
// reliability, clamped to 0.5x-2x of base.
func dynamicPrice(g *GridStation, available, stability, basePrice float64) float64 {
	capacityFactor := 1.0
	if g.MaxCapacityKW > 0 {
		utilization := 1.0 - available/g.MaxCapacityKW
		capacityFactor = 1.0 + utilization*utilization
	}
	stabilityFactor := 1.0 / math.Max(0.1, stability)
	reliabilityFactor := 1.0 + (1.0 - g.Reliability)

	price := basePrice * capacityFactor * stabilityFactor * reliabilityFactor
	return math.Min(math.Max(price, basePrice*0.5), basePrice*2.0)
}

// settleStation books load and revenue from its communities and drifts
// reliability with the resulting load factor.
func settleStation(g *GridStation, price float64, communities []Community) {
	totalLoad, totalRevenue := 0.0, 0.0
	for i := range communities {
		c := &communities[i]
		if c.GridStationID != g.ID {
			continue
		}
		importKWh := math.Max(0, c.PowerBalanceKWh)
		totalLoad += importKWh
		totalRevenue += importKWh * price

		exportKWh := math.Abs(math.Min(0, c.PowerBalanceKWh))
		totalLoad -= exportKWh * exportCreditRatio
		totalRevenue -= exportKWh * price * exportCreditRatio
	}

	g.DynamicPrice = price
	g.CurrentLoadKW = totalLoad
	g.Revenue += totalRevenue
	g.TotalEnergyTraded += math.Abs(totalLoad)

	loadFactor := 0.0
	if g.MaxCapacityKW > 0 {
		loadFactor = totalLoad / g.MaxCapacityKW
	}
	if loadFactor > 0.9 {
		g.Reliability = math.Max(0.7, g.Reliability-0.02)
	} else {
		g.Reliability = math.Min(0.95, g.Reliability+0.01)
	}
}

func (m *Model) runGridInteraction() {
	basePrice := m.cfg.Environment.GridBuyPrice
	for i := range m.GridStations {
		g := &m.GridStations[i]
		available, stability := monitorGridStatus(g, m.Communities)
		price := dynamicPrice(g, available, stability, basePrice)
		settleStation(g, price, m.Communities)
	}
}
