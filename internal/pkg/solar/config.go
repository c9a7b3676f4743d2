// Package solar is a monthly agent-based model of rooftop solar adoption.
// Households generate and trade energy inside communities, communities
// settle against grid stations, and adoption decisions feed back through
// prices and peer influence. One Step is one month.
package solar

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Environment EnvironmentConfig `yaml:"environment"`
	Agents      AgentsConfig      `yaml:"agents"`
}

type SimulationConfig struct {
	Steps int   `yaml:"steps"`
	Seed  int64 `yaml:"seed"`
}

type EnvironmentConfig struct {
	// GridBuyPrice is the retail price households pay, $/kWh.
	GridBuyPrice float64 `yaml:"grid_buy_price"`
	// GridSellRatio scales GridBuyPrice into the feed-in price.
	GridSellRatio float64 `yaml:"grid_sell_ratio"`
	// SolarInstallationCost is $/W installed.
	SolarInstallationCost float64 `yaml:"solar_installation_cost"`
	// SolarMaintenanceCost is $/W/year.
	SolarMaintenanceCost float64 `yaml:"solar_maintenance_cost"`
}

type AgentsConfig struct {
	Households   HouseholdConfig   `yaml:"household"`
	Communities  CommunityConfig   `yaml:"community"`
	GridStations GridStationConfig `yaml:"grid_station"`
}

type HouseholdConfig struct {
	Count int `yaml:"count"`
	// MonthlyDemandKWh bounds the randomized per-month demand profile.
	MinMonthlyDemandKWh float64 `yaml:"min_monthly_demand_kwh"`
	MaxMonthlyDemandKWh float64 `yaml:"max_monthly_demand_kwh"`
}

type CommunityConfig struct {
	Count int `yaml:"count"`
}

type GridStationConfig struct {
	Count int `yaml:"count"`
	// MaxCapacitiesKW assigns station capacities round-robin.
	MaxCapacitiesKW []float64 `yaml:"max_capacities_kw"`
}

func LoadConfig(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Simulation.Steps <= 0 {
		return fmt.Errorf("invalid or missing steps in simulation config")
	}
	if c.Environment.GridBuyPrice <= 0 {
		return fmt.Errorf("invalid or missing grid_buy_price in environment config")
	}
	if c.Environment.GridSellRatio <= 0 || c.Environment.GridSellRatio > 1 {
		return fmt.Errorf("grid_sell_ratio must be in (0, 1]")
	}
	if c.Environment.SolarInstallationCost <= 0 {
		return fmt.Errorf("invalid or missing solar_installation_cost in environment config")
	}
	if c.Environment.SolarMaintenanceCost < 0 {
		return fmt.Errorf("solar_maintenance_cost must not be negative")
	}
	if c.Agents.Households.Count <= 0 {
		return fmt.Errorf("household count must be positive")
	}
	if c.Agents.Communities.Count <= 0 {
		return fmt.Errorf("community count must be positive")
	}
	if c.Agents.GridStations.Count <= 0 {
		return fmt.Errorf("grid_station count must be positive")
	}
	if len(c.Agents.GridStations.MaxCapacitiesKW) == 0 {
		return fmt.Errorf("grid_station max_capacities_kw must not be empty")
	}
	return nil
}
