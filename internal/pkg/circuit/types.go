package circuit

import "github.com/gridflex/flexsim/internal/pkg/dfp"

// TransformerStatus is the loading summary for one neighborhood
// transformer after a solution.
type TransformerStatus struct {
	Name           string  `json:"name"`
	RatedKVA       float64 `json:"rated_kVA"`
	CurrentKVA     float64 `json:"current_kVA"`
	LoadingPercent float64 `json:"loading_percent"`
	Status         string  `json:"status"`
}

// Transformer status values, ordered by severity.
const (
	StatusOK         = "OK"
	StatusWarning    = "Warning"
	StatusOverloaded = "Overloaded"
)

// Device is a consumer appliance attached to a bus through its
// neighborhood transformer.
type Device struct {
	DeviceName string  `json:"device_name"`
	KW         float64 `json:"kw"`
}

// StorageDevice is a battery attached to a bus. Mode is one of idle,
// charging or discharging.
type StorageDevice struct {
	DeviceName       string  `json:"device_name"`
	Bus              string  `json:"bus"`
	MaxCapacityKWh   float64 `json:"max_capacity_kwh"`
	CurrentEnergyKWh float64 `json:"current_energy_kwh"`
	ChargeRateKW     float64 `json:"charge_rate_kw"`
	DischargeRateKW  float64 `json:"discharge_rate_kw"`
	Mode             string  `json:"mode"`
}

// Storage modes.
const (
	ModeIdle        = "idle"
	ModeCharging    = "charging"
	ModeDischarging = "discharging"
)

// BusDetail is the per-bus row of the state report.
type BusDetail struct {
	Bus            string              `json:"Bus"`
	VMagPU         float64             `json:"VMag_pu"`
	VAngle         float64             `json:"VAngle"`
	LoadKW         float64             `json:"Load_kW"`
	GenKW          float64             `json:"Gen_kW"`
	NetPowerKW     float64             `json:"Net_Power_kW"`
	Devices        []Device            `json:"Devices"`
	Transformers   []TransformerStatus `json:"Transformers"`
	StorageDevices []StorageDevice     `json:"StorageDevices"`
	DFPs           []int               `json:"DFPs"`
}

// PowerSummary aggregates circuit-level power quantities.
type PowerSummary struct {
	Converged             bool    `json:"converged"`
	TotalCircuitPowerKW   float64 `json:"total_circuit_power_kW"`
	TotalLossesKW         float64 `json:"total_losses_kW"`
	TotalLoadKW           float64 `json:"total_load_kW"`
	TotalGenKW            float64 `json:"total_gen_kW"`
	MaxCircuitPowerKVA    float64 `json:"maximum_circuit_power_kVA"`
	MaxCircuitLoadKW      float64 `json:"maximum_circuit_load_kW"`
	CircuitLoadingPercent float64 `json:"circuit_loading_percent"`
}

// VoltageProfile summarizes the bus voltage spread.
type VoltageProfile struct {
	MinVoltagePU float64 `json:"min_voltage_pu"`
	MaxVoltagePU float64 `json:"max_voltage_pu"`
	AvgVoltagePU float64 `json:"avg_voltage_pu"`
}

// ManagementResult is the outcome of a managed solve: OK when the
// circuit is within ratings (including after corrective shedding),
// ALERT when the iteration cap was exhausted with overloads remaining,
// or ERROR when the solution diverged.
type ManagementResult struct {
	Status        string   `json:"status"`
	ManagementLog []string `json:"management_log"`
}

// Managed solve status values.
const (
	ManageOK    = "OK"
	ManageAlert = "ALERT"
	ManageError = "ERROR"
)

// StateDetails is the full serialized circuit state returned by the
// HTTP surface and rendered into the report files.
type StateDetails struct {
	ManagementStatus ManagementResult `json:"management_status"`
	DFPRegistry      []dfp.Program    `json:"dfp_registry"`
	PowerSummary     PowerSummary     `json:"power_summary"`
	VoltageProfile   VoltageProfile   `json:"voltage_profile"`
	Neighborhoods    map[int][]string `json:"neighborhood_details"`
	BusDetails       []BusDetail      `json:"bus_details"`
}

// Participation records one bus's response to a program execution.
type Participation struct {
	Bus         string  `json:"bus"`
	BeforeKW    float64 `json:"before_kw"`
	AfterKW     float64 `json:"after_kw"`
	CurtailedKW float64 `json:"curtailed_kw"`
}

// PowerFlowResults mirrors the solver-level result triple.
type PowerFlowResults struct {
	Converged     bool    `json:"converged"`
	TotalPowerKW  float64 `json:"total_power_kW"`
	TotalLossesKW float64 `json:"total_losses_kW"`
}

// CapacityInfo reports the design limits of the compiled circuit.
type CapacityInfo struct {
	MaxCircuitPowerKVA float64 `json:"maximum_circuit_power_kVA"`
	MaxCircuitLoadKW   float64 `json:"maximum_circuit_load_kW"`
}
