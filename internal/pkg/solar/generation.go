package solar

// monthlyCapacityFactors approximate a New England rooftop (NREL PVWatts).
var monthlyCapacityFactors = [12]float64{
	0.30, 0.35, 0.45, 0.50, 0.55, 0.60,
	0.65, 0.60, 0.55, 0.45, 0.35, 0.30,
}

// peakSunHoursPerDay converts daily energy into an equivalent hourly rate.
const peakSunHoursPerDay = 8.0

// solarGeneration returns (hourly, daily) generation in kWh for month 1-12.
func solarGeneration(h *Household, month int) (float64, float64) {
	if !h.HasSolar || h.GenerationCapacityKW <= 0 {
		return 0, 0
	}
	daily := h.GenerationCapacityKW * monthlyCapacityFactors[month-1] * 24
	return daily / peakSunHoursPerDay, daily
}

// updateEnergyBalance nets daily generation against the month's demand,
// charging or draining the battery before touching the grid.
func updateEnergyBalance(h *Household, dailyGeneration float64, month int) {
	demand := h.DemandProfileKWh[month-1]
	net := dailyGeneration - demand

	h.ExcessEnergyKWh = 0
	h.GridConsumptionKWh = 0

	if net > 0 {
		available := h.BatteryCapacityKWh - h.BatteryChargeKWh
		if available >= net {
			h.BatteryChargeKWh += net
		} else {
			h.BatteryChargeKWh = h.BatteryCapacityKWh
			h.ExcessEnergyKWh = net - available
		}
		return
	}

	needed := -net
	if h.BatteryChargeKWh >= needed {
		h.BatteryChargeKWh -= needed
	} else {
		needed -= h.BatteryChargeKWh
		h.BatteryChargeKWh = 0
		h.GridConsumptionKWh = needed
	}
}

func (m *Model) runGeneration(month int) {
	for i := range m.Households {
		h := &m.Households[i]
		_, daily := solarGeneration(h, month)
		updateEnergyBalance(h, daily, month)
	}
}
