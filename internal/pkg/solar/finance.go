package solar

import "math"

// monthlyFinancials books the month's grid cost, feed-in revenue and
// maintenance against the no-solar baseline. Returns net savings.
func monthlyFinancials(h *Household, gridBuyPrice, gridSellRatio, maintCostPerW float64, month int) float64 {
	demand := h.DemandProfileKWh[month-1]
	costWithoutSolar := demand * gridBuyPrice

	gridCost := h.GridConsumptionKWh * gridBuyPrice
	sellRevenue := h.ExcessEnergyKWh * gridBuyPrice * gridSellRatio
	netCostWithSolar := math.Max(0, gridCost-sellRevenue)

	monthlySavings := costWithoutSolar - netCostWithSolar

	maintenance := 0.0
	if h.HasSolar {
		maintenance = h.GenerationCapacityKW * 1000 * maintCostPerW / 12
	}
	return monthlySavings - maintenance
}

func (m *Model) runFinancialUpdate(month int) {
	env := m.cfg.Environment
	for i := range m.Households {
		h := &m.Households[i]

		netSavings := monthlyFinancials(h, env.GridBuyPrice, env.GridSellRatio, env.SolarMaintenanceCost, month)
		h.MonthlySavings = netSavings
		h.CumulativeSavings += netSavings

		if h.HasSolar && h.InstallationCost > 0 {
			h.ExpectedROI = (h.CumulativeSavings - h.InstallationCost) / h.InstallationCost * 100
		}
	}
}
