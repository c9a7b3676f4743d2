package solar

import "math"

// adoptionMetrics is the financial case for one candidate installation.
type adoptionMetrics struct {
	Viable            bool
	SystemSizeKW      float64
	AnnualProduction  float64
	AnnualSavings     float64
	InstallationCost  float64
	AnnualMaintenance float64
	ROIPercentage     float64
	PaybackYears      float64
}

// evaluateSolarPotential sizes a candidate system against the household's
// financial capacity and works out ROI and payback at the current price.
func evaluateSolarPotential(h *Household, gridPrice, installCostPerW, maintCostPerW float64) adoptionMetrics {
	if h.HasSolar {
		return adoptionMetrics{}
	}

	// Up to 20 kW by financial capacity, hard cap 10 kW, minimum 1 kW.
	systemSize := math.Min(h.FinancialCapacity*20, 10.0)
	if systemSize < 1.0 {
		return adoptionMetrics{}
	}

	// 4.5 equivalent sun hours per day at 0.75 performance ratio.
	annualProduction := systemSize * 4.5 * 365 * 0.75
	annualSavings := annualProduction * gridPrice

	installationCost := systemSize * 1000 * installCostPerW
	annualMaintenance := systemSize * 1000 * maintCostPerW
	annualNet := annualSavings - annualMaintenance

	roi := 0.0
	if installationCost > 0 {
		roi = annualNet / installationCost * 100
	}
	payback := 99.0
	if annualNet > 0 {
		payback = installationCost / annualNet
	}

	return adoptionMetrics{
		Viable:            true,
		SystemSizeKW:      systemSize,
		AnnualProduction:  annualProduction,
		AnnualSavings:     annualSavings,
		InstallationCost:  installationCost,
		AnnualMaintenance: annualMaintenance,
		ROIPercentage:     roi,
		PaybackYears:      payback,
	}
}

// socialInfluence is the community adoption rate amplified 1.5x, capped
// at 1. Neutral 0.5 with no neighbors.
func socialInfluence(h *Household, households []Household) float64 {
	neighbors, adopters := 0, 0
	for i := range households {
		n := &households[i]
		if n.CommunityID != h.CommunityID || n.ID == h.ID {
			continue
		}
		neighbors++
		if n.HasSolar {
			adopters++
		}
	}
	if neighbors == 0 {
		return 0.5
	}
	rate := float64(adopters) / float64(neighbors)
	return math.Min(rate*1.5, 1.0)
}

// adoptionProbability blends ROI, payback, financial capacity, peer
// influence and a seasonal swing that peaks in June.
func adoptionProbability(h *Household, am adoptionMetrics, influence float64, month int) float64 {
	if h.HasSolar || !am.Viable {
		return 0
	}

	const minROI, maxROI = 2.0, 10.0
	roiFactor := math.Min(math.Max((am.ROIPercentage-minROI)/(maxROI-minROI), 0), 1)

	const maxPayback = 15.0
	paybackFactor := 1.0 - math.Min(am.PaybackYears/maxPayback, 1.0)

	seasonalFactor := 0.5 + 0.5*math.Sin(float64(month-3)*math.Pi/6)

	base := 0.7*roiFactor + 0.2*paybackFactor + 0.1*h.FinancialCapacity

	const socialWeight = 0.3
	p := base*(1-socialWeight) + influence*socialWeight

	return p * (0.8 + 0.4*seasonalFactor)
}

func (m *Model) runAdoption(month int) {
	env := m.cfg.Environment
	for i := range m.Households {
		h := &m.Households[i]
		if h.HasSolar {
			continue
		}

		am := evaluateSolarPotential(h, env.GridBuyPrice, env.SolarInstallationCost, env.SolarMaintenanceCost)
		influence := socialInfluence(h, m.Households)
		p := adoptionProbability(h, am, influence, month)

		if m.rng.Float64() < p {
			h.HasSolar = true
			h.GenerationCapacityKW = am.SystemSizeKW
			h.ExpectedROI = am.ROIPercentage
			h.InstallationCost = am.InstallationCost
		}
	}
}
