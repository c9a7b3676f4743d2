package solar

import (
	"encoding/csv"
	"fmt"
	"os"
)

// StepMetrics summarizes the model after one monthly step.
type StepMetrics struct {
	Step               int
	AdoptionRate       float64
	HouseholdsWSolar   int
	TotalGenerationKWh float64
	EnergySoldKWh      float64
	EnergyConsumedKWh  float64
	TotalSavings       float64
	AvgROI             float64
	GridLoadKW         float64
	GridRevenue        float64
	AvgMarketPrice     float64
}

func (m *Model) metrics() StepMetrics {
	sm := StepMetrics{Step: m.step}

	withSolar := 0
	roiSum := 0.0
	for i := range m.Households {
		h := &m.Households[i]
		if h.HasSolar {
			withSolar++
			roiSum += h.ExpectedROI
			// Approximate monthly nameplate energy.
			sm.TotalGenerationKWh += h.GenerationCapacityKW * 30 * 24
		}
		sm.EnergySoldKWh += h.ExcessEnergyKWh
		sm.EnergyConsumedKWh += h.GridConsumptionKWh
		sm.TotalSavings += h.CumulativeSavings
	}
	sm.HouseholdsWSolar = withSolar
	if len(m.Households) > 0 {
		sm.AdoptionRate = float64(withSolar) / float64(len(m.Households))
	}
	if withSolar > 0 {
		sm.AvgROI = roiSum / float64(withSolar)
	}

	for i := range m.GridStations {
		sm.GridLoadKW += m.GridStations[i].CurrentLoadKW
		sm.GridRevenue += m.GridStations[i].Revenue
	}

	priceSum := 0.0
	for i := range m.Communities {
		priceSum += m.Communities[i].MarketPrice
	}
	if len(m.Communities) > 0 {
		sm.AvgMarketPrice = priceSum / float64(len(m.Communities))
	}

	return sm
}

var metricsHeader = []string{
	"step", "solar_adoption_rate", "num_households_with_solar",
	"total_generation", "energy_sold", "energy_consumed",
	"total_savings", "avg_roi", "grid_load", "grid_revenue",
	"avg_market_price",
}

func (sm StepMetrics) record() []string {
	f := func(v float64) string { return fmt.Sprintf("%.4f", v) }
	return []string{
		fmt.Sprintf("%d", sm.Step),
		f(sm.AdoptionRate),
		fmt.Sprintf("%d", sm.HouseholdsWSolar),
		f(sm.TotalGenerationKWh),
		f(sm.EnergySoldKWh),
		f(sm.EnergyConsumedKWh),
		f(sm.TotalSavings),
		f(sm.AvgROI),
		f(sm.GridLoadKW),
		f(sm.GridRevenue),
		f(sm.AvgMarketPrice),
	}
}

// SaveResults writes per-step metrics to a CSV file.
func SaveResults(results []StepMetrics, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(metricsHeader); err != nil {
		return err
	}
	for _, sm := range results {
		if err := w.Write(sm.record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
