package solar

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func testConfig(t *testing.T) Config {
	cfg, err := LoadConfig("./solar_config_test.yaml")
	assert.NilError(t, err)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	cfg := testConfig(t)

	assert.Equal(t, cfg.Simulation.Steps, 24)
	assert.Equal(t, cfg.Simulation.Seed, int64(42))
	assert.Equal(t, cfg.Environment.GridBuyPrice, 0.25)
	assert.Equal(t, cfg.Agents.Households.Count, 50)
	assert.Equal(t, len(cfg.Agents.GridStations.MaxCapacitiesKW), 2)
}

func TestValidateRejectsMissingSections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.Steps = 0
	assert.ErrorContains(t, cfg.Validate(), "steps")

	cfg = testConfig(t)
	cfg.Environment.GridBuyPrice = 0
	assert.ErrorContains(t, cfg.Validate(), "grid_buy_price")

	cfg = testConfig(t)
	cfg.Agents.GridStations.MaxCapacitiesKW = nil
	assert.ErrorContains(t, cfg.Validate(), "max_capacities_kw")
}

func TestSolarGeneration(t *testing.T) {
	h := &Household{HasSolar: true, GenerationCapacityKW: 5}

	hourly, daily := solarGeneration(h, 6)
	assert.Equal(t, daily, 72.0)
	assert.Equal(t, hourly, 9.0)

	h.HasSolar = false
	hourly, daily = solarGeneration(h, 6)
	assert.Equal(t, daily, 0.0)
	assert.Equal(t, hourly, 0.0)
}

func TestEnergyBalanceSurplusFillsBatteryFirst(t *testing.T) {
	h := &Household{BatteryCapacityKWh: 10}
	h.DemandProfileKWh[0] = 50

	updateEnergyBalance(h, 72, 1)

	assert.Equal(t, h.BatteryChargeKWh, 10.0)
	assert.Equal(t, h.ExcessEnergyKWh, 12.0)
	assert.Equal(t, h.GridConsumptionKWh, 0.0)
}

func TestEnergyBalanceDeficitDrainsBatteryFirst(t *testing.T) {
	h := &Household{BatteryCapacityKWh: 10, BatteryChargeKWh: 10}
	h.DemandProfileKWh[0] = 30

	updateEnergyBalance(h, 0, 1)

	assert.Equal(t, h.BatteryChargeKWh, 0.0)
	assert.Equal(t, h.GridConsumptionKWh, 20.0)
	assert.Equal(t, h.ExcessEnergyKWh, 0.0)
}

func TestClearMarketNoLocalTrade(t *testing.T) {
	price, balance := clearMarket(0, 100, 0.25, 0.8)
	assert.Equal(t, price, 0.25)
	assert.Equal(t, balance, 100.0)
}

func TestClearMarketSupplyGlut(t *testing.T) {
	price, balance := clearMarket(1000, 100, 0.25, 0.8)

	// Ratio clamps at 10, so the price factor bottoms out at 0.75.
	assert.Assert(t, math.Abs(price-0.2375) < 1e-6)
	assert.Equal(t, balance, -900.0)
}

func TestClearMarketBalancedTracksBuyPrice(t *testing.T) {
	price, _ := clearMarket(100, 100, 0.25, 0.8)
	assert.Assert(t, math.Abs(price-0.25) < 1e-6)
}

func TestMonitorGridStatus(t *testing.T) {
	g := &GridStation{ID: 1, MaxCapacityKW: 1000}
	communities := []Community{{ID: 1, GridStationID: 1, PowerBalanceKWh: 900}}

	available, stability := monitorGridStatus(g, communities)
	assert.Equal(t, available, 100.0)
	assert.Equal(t, stability, 0.5)
}

func TestDynamicPriceClampsAtDoubleBase(t *testing.T) {
	g := &GridStation{MaxCapacityKW: 1000, Reliability: 0.7}

	price := dynamicPrice(g, 0, 0.5, 0.25)
	assert.Equal(t, price, 0.5)
}

func TestDynamicPriceIdleStation(t *testing.T) {
	g := &GridStation{MaxCapacityKW: 1000, Reliability: 0.95}

	price := dynamicPrice(g, 1000, 1.0, 0.25)
	assert.Assert(t, math.Abs(price-0.2625) < 1e-9)
}

func TestSettleStationReliabilityDrift(t *testing.T) {
	g := &GridStation{ID: 1, MaxCapacityKW: 1000, Reliability: 0.95}
	communities := []Community{{ID: 1, GridStationID: 1, PowerBalanceKWh: 950}}

	settleStation(g, 0.25, communities)
	assert.Equal(t, g.Reliability, 0.93)
	assert.Equal(t, g.CurrentLoadKW, 950.0)

	communities[0].PowerBalanceKWh = 100
	settleStation(g, 0.25, communities)
	assert.Equal(t, g.Reliability, 0.94)
}

func TestEvaluateSolarPotential(t *testing.T) {
	h := &Household{FinancialCapacity: 0.5}

	am := evaluateSolarPotential(h, 0.25, 2.5, 0.01)
	assert.Assert(t, am.Viable)
	assert.Equal(t, am.SystemSizeKW, 10.0)
	assert.Equal(t, am.InstallationCost, 25000.0)
	assert.Assert(t, am.ROIPercentage > 11 && am.ROIPercentage < 13)
	assert.Assert(t, am.PaybackYears > 8 && am.PaybackYears < 9)
}

func TestEvaluateSolarPotentialTooSmall(t *testing.T) {
	h := &Household{FinancialCapacity: 0.01}

	am := evaluateSolarPotential(h, 0.25, 2.5, 0.01)
	assert.Assert(t, !am.Viable)
}

func TestSocialInfluence(t *testing.T) {
	households := []Household{
		{ID: 1, CommunityID: 1},
		{ID: 2, CommunityID: 1, HasSolar: true},
		{ID: 3, CommunityID: 1, HasSolar: true},
		{ID: 4, CommunityID: 2, HasSolar: true},
	}

	// 2 of 2 neighbors have solar, amplified rate caps at 1.
	assert.Equal(t, socialInfluence(&households[0], households), 1.0)

	lone := Household{ID: 9, CommunityID: 3}
	assert.Equal(t, socialInfluence(&lone, households), 0.5)
}

func TestStepDeterministicForSeed(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewModel(cfg)
	assert.NilError(t, err)
	b, err := NewModel(cfg)
	assert.NilError(t, err)

	for i := 0; i < 12; i++ {
		ma := a.Step()
		mb := b.Step()
		assert.DeepEqual(t, ma, mb)
	}
}

func TestAdoptionGrowsOverTime(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewModel(cfg)
	assert.NilError(t, err)

	var last StepMetrics
	prev := 0.0
	for i := 0; i < cfg.Simulation.Steps; i++ {
		last = m.Step()
		assert.Assert(t, last.AdoptionRate >= prev)
		prev = last.AdoptionRate
	}

	assert.Assert(t, last.AdoptionRate > 0.5)
	assert.Equal(t, last.Step, 24)
}

func TestSaveResults(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewModel(cfg)
	assert.NilError(t, err)

	var results []StepMetrics
	for i := 0; i < 3; i++ {
		results = append(results, m.Step())
	}

	out := filepath.Join(t.TempDir(), "results.csv")
	assert.NilError(t, SaveResults(results, out))

	raw, err := os.ReadFile(out)
	assert.NilError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, len(lines), 4)
	assert.Assert(t, strings.HasPrefix(lines[0], "step,solar_adoption_rate"))
}
