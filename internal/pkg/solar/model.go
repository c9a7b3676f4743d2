package solar

import (
	"math/rand"
)

// Household is one rooftop agent. Energy fields are refreshed each step.
type Household struct {
	ID                   int
	CommunityID          int
	DemandProfileKWh     [12]float64
	FinancialCapacity    float64
	GenerationCapacityKW float64
	BatteryCapacityKWh   float64
	BatteryChargeKWh     float64
	GridConsumptionKWh   float64
	ExcessEnergyKWh      float64
	HasSolar             bool
	AdoptionPropensity   float64
	ExpectedROI          float64
	InstallationCost     float64
	MonthlySavings       float64
	CumulativeSavings    float64
}

// Community aggregates its households for local market clearing.
type Community struct {
	ID               int
	GridStationID    int
	MarketPrice      float64
	PowerBalanceKWh  float64
	TotalGeneration  float64
	TotalConsumption float64
}

// GridStation is the upstream supply point for one or more communities.
type GridStation struct {
	ID                int
	MaxCapacityKW     float64
	CurrentLoadKW     float64
	DynamicPrice      float64
	Reliability       float64
	Revenue           float64
	TotalEnergyTraded float64
}

// Model holds the full simulation state. Not safe for concurrent use.
type Model struct {
	cfg          Config
	rng          *rand.Rand
	step         int
	Households   []Household
	Communities  []Community
	GridStations []GridStation
}

func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Simulation.Seed))

	m := &Model{cfg: cfg, rng: rng}
	m.seedHouseholds()
	m.seedCommunities()
	m.seedGridStations()
	return m, nil
}

func (m *Model) seedHouseholds() {
	hc := m.cfg.Agents.Households
	minD, maxD := hc.MinMonthlyDemandKWh, hc.MaxMonthlyDemandKWh
	if maxD <= minD {
		minD, maxD = 300, 900
	}
	m.Households = make([]Household, hc.Count)
	for i := range m.Households {
		h := &m.Households[i]
		h.ID = i + 1
		h.CommunityID = m.rng.Intn(m.cfg.Agents.Communities.Count) + 1
		for mo := range h.DemandProfileKWh {
			h.DemandProfileKWh[mo] = minD + m.rng.Float64()*(maxD-minD)
		}
		h.FinancialCapacity = 0.1 + m.rng.Float64()*0.9
		h.BatteryCapacityKWh = 5 + m.rng.Float64()*15
		h.AdoptionPropensity = m.rng.Float64() * 0.5
	}
}

func (m *Model) seedCommunities() {
	count := m.cfg.Agents.Communities.Count
	stations := m.cfg.Agents.GridStations.Count
	m.Communities = make([]Community, count)
	for i := range m.Communities {
		c := &m.Communities[i]
		c.ID = i + 1
		c.GridStationID = i%stations + 1
		c.MarketPrice = m.cfg.Environment.GridBuyPrice
	}
}

func (m *Model) seedGridStations() {
	gc := m.cfg.Agents.GridStations
	m.GridStations = make([]GridStation, gc.Count)
	for i := range m.GridStations {
		g := &m.GridStations[i]
		g.ID = i + 1
		g.MaxCapacityKW = gc.MaxCapacitiesKW[i%len(gc.MaxCapacitiesKW)]
		g.DynamicPrice = m.cfg.Environment.GridBuyPrice
		g.Reliability = 0.95
	}
}

// Step advances the model one month through the five substeps and
// returns the step metrics.
func (m *Model) Step() StepMetrics {
	m.step++
	month := (m.step-1)%12 + 1

	m.runGeneration(month)
	m.runMarketClearing()
	m.runGridInteraction()
	m.runAdoption(month)
	m.runFinancialUpdate(month)

	return m.metrics()
}

// CurrentStep returns the number of completed steps.
func (m *Model) CurrentStep() int {
	return m.step
}
