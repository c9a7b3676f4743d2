package solar

import "math"

// clearMarket prices local trade between the feed-in price and the retail
// price. With no local supply or demand the community falls back to the
// grid price. Returns (market price, power balance); a positive balance
// means net import from the grid.
func clearMarket(totalSupply, totalDemand, gridBuyPrice, gridSellRatio float64) (float64, float64) {
	if totalSupply <= 0 || totalDemand <= 0 {
		return gridBuyPrice, totalDemand - totalSupply
	}

	gridSellPrice := gridBuyPrice * gridSellRatio
	ratio := math.Min(math.Max(totalSupply/(totalDemand+1e-6), 0.1), 10.0)

	// Price eases toward the feed-in price as supply outgrows demand.
	priceFactor := 0.5 + 0.5*(1.0/(1.0+math.Log10(ratio)))
	marketPrice := gridSellPrice + (gridBuyPrice-gridSellPrice)*priceFactor

	return marketPrice, totalDemand - totalSupply
}

func (m *Model) runMarketClearing() {
	env := m.cfg.Environment
	for i := range m.Communities {
		c := &m.Communities[i]

		totalSupply, totalDemand := 0.0, 0.0
		for j := range m.Households {
			h := &m.Households[j]
			if h.CommunityID != c.ID {
				continue
			}
			totalSupply += h.ExcessEnergyKWh
			totalDemand += h.GridConsumptionKWh
		}

		price, balance := clearMarket(totalSupply, totalDemand, env.GridBuyPrice, env.GridSellRatio)
		c.MarketPrice = price
		c.PowerBalanceKWh = balance
		c.TotalGeneration = totalSupply
		c.TotalConsumption = totalDemand
	}
}
