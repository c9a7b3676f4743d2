// Package circuit is the stateful service layer over the power-flow
// engine: it owns the compiled feeder, the neighborhood tables, the
// capacity ledger, attached devices and storage, and the Demand
// Flexibility Program registry. All access is serialized; the system
// holds a single circuit state.
package circuit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gridflex/flexsim/internal/pkg/dfp"
	"github.com/gridflex/flexsim/internal/pkg/engine"
	"github.com/gridflex/flexsim/internal/pkg/msg"
)

// ErrNotFound marks operations that target a bus, device, program or
// neighborhood the circuit does not have.
var ErrNotFound = errors.New("not found")

// Config are the static circuit properties: the master definition file
// and the neighborhood layout.
type Config struct {
	Name                 string              `json:"Name"`
	MasterFile           string              `json:"MasterFile"`
	Neighborhoods        map[string][]string `json:"Neighborhoods"`
	TransformerPrimaries map[string]string   `json:"TransformerPrimaries"`
	TransformerKVA       float64             `json:"TransformerKVA"`
	SecondaryKV          float64             `json:"SecondaryKV"`
}

type capacity struct {
	LoadKW float64
	GenKW  float64
}

// Circuit wraps one compiled feeder plus the bookkeeping the HTTP
// surface mutates.
type Circuit struct {
	mux *sync.Mutex
	pid uuid.UUID
	eng *engine.Engine
	cfg Config

	masterFile      string
	neighborhoods   map[int][]string
	xfmrPrimaries   map[int]string
	busCapacities   map[string]*capacity
	loadOriginalBus map[string]string
	busTransformers map[string][]string
	xfmrStatuses    map[string]TransformerStatus
	devices         map[string][]Device
	storage         map[string]*StorageDevice
	busCoordinates  map[string][2]float64

	dfps      *dfp.Registry
	publisher *msg.PubSub
}

// New reads the circuit config file, compiles the master circuit and
// prepares the neighborhood transformers.
func New(configPath string) (*Circuit, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a Circuit from an in-memory config.
func NewFromConfig(cfg Config) (*Circuit, error) {
	if cfg.TransformerKVA == 0 {
		cfg.TransformerKVA = 300
	}
	if cfg.SecondaryKV == 0 {
		cfg.SecondaryKV = 0.24
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	c := &Circuit{
		mux:       &sync.Mutex{},
		pid:       pid,
		eng:       engine.New(),
		cfg:       cfg,
		dfps:      dfp.NewRegistry(),
		publisher: msg.NewPublisher(pid),
	}

	c.neighborhoods = make(map[int][]string)
	for k, buses := range cfg.Neighborhoods {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("neighborhood id %q: %v", k, err)
		}
		lowered := make([]string, len(buses))
		for i, b := range buses {
			lowered[i] = strings.ToLower(b)
		}
		c.neighborhoods[id] = lowered
	}
	c.xfmrPrimaries = make(map[int]string)
	for k, bus := range cfg.TransformerPrimaries {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("transformer primary id %q: %v", k, err)
		}
		c.xfmrPrimaries[id] = strings.ToLower(bus)
	}

	if err := c.initialize(cfg.MasterFile); err != nil {
		return nil, err
	}
	return c, nil
}

// PID returns the circuit's process id.
func (c *Circuit) PID() uuid.UUID {
	return c.pid
}

// Subscribe exposes the circuit's publisher: state summaries are
// broadcast on the Status topic after every managed solve, audit
// records on the Activity topic.
func (c *Circuit) Subscribe(pid uuid.UUID, topic msg.Topic) <-chan msg.Msg {
	return c.publisher.Subscribe(pid, topic)
}

// Unsubscribe drops a subscriber.
func (c *Circuit) Unsubscribe(pid uuid.UUID) {
	c.publisher.Unsubscribe(pid)
}

// DFPs exposes the program registry.
func (c *Circuit) DFPs() *dfp.Registry {
	return c.dfps
}

// MasterFile returns the path of the compiled circuit definition.
func (c *Circuit) MasterFile() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.masterFile
}

// SwitchMaster recompiles the circuit from a different master file.
// Devices, storage, and program subscriptions are discarded with the
// old circuit; the program registry survives.
func (c *Circuit) SwitchMaster(masterFile string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.initialize(masterFile)
}

// Reset recompiles the original master file, dropping all mutations.
func (c *Circuit) Reset() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.initialize(c.cfg.MasterFile)
}

// initialize compiles the master file, inventories the original
// capacities and rewires neighborhood loads behind their transformers.
// The caller holds the mutex (or is the constructor).
func (c *Circuit) initialize(masterFile string) error {
	log.Println("[Circuit] Compiling base circuit:", masterFile)
	if err := c.eng.Compile(masterFile); err != nil {
		return err
	}
	if c.eng.NumBuses() == 0 {
		return fmt.Errorf("no buses found, check master file %s", masterFile)
	}
	c.masterFile = masterFile
	c.busCapacities = make(map[string]*capacity)
	c.loadOriginalBus = make(map[string]string)
	c.busTransformers = make(map[string][]string)
	c.xfmrStatuses = make(map[string]TransformerStatus)
	c.devices = make(map[string][]Device)
	c.storage = make(map[string]*StorageDevice)
	c.busCoordinates = make(map[string][2]float64)

	c.inventoryCapacities()
	if err := c.addNeighborhoodTransformers(); err != nil {
		return err
	}
	return nil
}

// inventoryCapacities scans the freshly compiled circuit and records
// per-bus load and generation, and each load's original bus.
func (c *Circuit) inventoryCapacities() {
	log.Println("[Circuit] Inventorying bus capacities and mapping loads")
	for _, ld := range c.eng.Loads() {
		if !ld.Enabled {
			continue
		}
		c.loadOriginalBus[ld.Name] = ld.Bus1
		c.cap(ld.Bus1).LoadKW += ld.KW
	}
	for _, gen := range c.eng.Generators() {
		if !gen.Enabled {
			continue
		}
		c.cap(gen.Bus1).GenKW += gen.EffectiveKW()
	}
}

// rebuildCapacities recomputes the ledger from the engine tables after
// a snapshot replay. Storage elements stay off the ledger, matching the
// live mutation paths. Caller holds the mutex.
func (c *Circuit) rebuildCapacities() {
	c.busCapacities = make(map[string]*capacity)
	for loadName, origBus := range c.loadOriginalBus {
		if ld, ok := c.eng.LoadInfo(loadName); ok && ld.Enabled {
			c.cap(origBus).LoadKW += ld.KW
		}
	}
	for _, gen := range c.eng.Generators() {
		if !gen.Enabled || strings.HasPrefix(gen.Name, "stor_") {
			continue
		}
		c.cap(gen.Bus1).GenKW += gen.EffectiveKW()
	}
}

func (c *Circuit) cap(bus string) *capacity {
	bus = strings.ToLower(bus)
	if _, ok := c.busCapacities[bus]; !ok {
		c.busCapacities[bus] = &capacity{}
	}
	return c.busCapacities[bus]
}

// addNeighborhoodTransformers adds one service transformer per
// neighborhood on its primary bus and moves the neighborhood's loads to
// the transformer secondary.
func (c *Circuit) addNeighborhoodTransformers() error {
	log.Println("[Circuit] Adding neighborhood transformers and rewiring loads")
	ids := make([]int, 0, len(c.xfmrPrimaries))
	for id := range c.xfmrPrimaries {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		primary := c.xfmrPrimaries[id]
		bus, ok := c.eng.BusInfo(primary)
		if !ok || bus.KVBase == 0 {
			continue
		}
		xfmrName := fmt.Sprintf("xfmr_neigh_%d", id)
		secondary := primary + "_sec"

		cmd := fmt.Sprintf(
			"New Transformer.%s Phases=1 XHL=5.6 windings=2 Buses=[%s, %s] kVs=[%.4f, %.2f] kVAs=[%.0f, %.0f] Conns=[Wye, Wye]",
			xfmrName, primary, secondary, bus.KVBase, c.cfg.SecondaryKV, c.cfg.TransformerKVA, c.cfg.TransformerKVA)
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
		c.busTransformers[primary] = append(c.busTransformers[primary], xfmrName)

		members := c.neighborhoods[id]
		for loadName, origBus := range c.loadOriginalBus {
			if contains(members, origBus) {
				cmd := fmt.Sprintf("edit Load.%s Bus1=%s kV=%.2f", loadName, secondary, c.cfg.SecondaryKV)
				if err := c.eng.Command(cmd); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// disableRegulators turns off all regulator controls to aid snapshot
// convergence.
func (c *Circuit) disableRegulators() {
	for _, name := range c.eng.RegControlNames() {
		if err := c.eng.Command(fmt.Sprintf("edit RegControl.%s enabled=no", name)); err != nil {
			log.Println("[Circuit] disable regulator:", err)
		}
	}
}

// checkTransformerOverloads returns the transformers whose solved
// through-power exceeds their rating.
func (c *Circuit) checkTransformerOverloads() []TransformerStatus {
	var overloaded []TransformerStatus
	for _, tr := range c.eng.Transformers() {
		rated := tr.RatedKVA()
		current := math.Hypot(tr.FlowKW, tr.FlowKVAR)
		if current > rated {
			overloaded = append(overloaded, TransformerStatus{
				Name:       tr.Name,
				RatedKVA:   rated,
				CurrentKVA: current,
			})
		}
	}
	return overloaded
}

// updateTransformerStatuses refreshes the loading table for every
// transformer.
func (c *Circuit) updateTransformerStatuses() {
	c.xfmrStatuses = make(map[string]TransformerStatus)
	for _, tr := range c.eng.Transformers() {
		rated := tr.RatedKVA()
		current := math.Hypot(tr.FlowKW, tr.FlowKVAR)
		loading := 0.0
		if rated > 0 {
			loading = current / rated * 100
		}
		status := StatusOK
		switch {
		case loading > 100:
			status = StatusOverloaded
		case loading > 90:
			status = StatusWarning
		}
		c.xfmrStatuses[tr.Name] = TransformerStatus{
			Name:           tr.Name,
			RatedKVA:       rated,
			CurrentKVA:     round(current, 2),
			LoadingPercent: round(loading, 2),
			Status:         status,
		}
	}
}

func neighborhoodFromTransformer(name string) int {
	parts := strings.Split(name, "_")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return -1
	}
	return id
}

// SolveAndManage solves the power flow and automatically sheds
// neighborhood load while transformers remain overloaded, up to
// maxIterations passes.
func (c *Circuit) SolveAndManage(maxIterations int) ManagementResult {
	c.mux.Lock()
	defer c.mux.Unlock()
	if maxIterations <= 0 {
		maxIterations = 10
	}

	var managementLog []string
	c.disableRegulators()

	for i := 0; i < maxIterations; i++ {
		if err := c.eng.Solve(); err != nil {
			managementLog = append(managementLog, fmt.Sprintf("FATAL: solver error: %v", err))
			c.updateTransformerStatuses()
			return ManagementResult{Status: ManageError, ManagementLog: managementLog}
		}
		if !c.eng.Converged() {
			managementLog = append(managementLog, "FATAL: Power flow failed to converge.")
			c.updateTransformerStatuses()
			return ManagementResult{Status: ManageError, ManagementLog: managementLog}
		}

		overloads := c.checkTransformerOverloads()
		c.updateTransformerStatuses()

		if len(overloads) == 0 {
			if i > 0 {
				managementLog = append(managementLog, fmt.Sprintf("System stabilized after %d iteration(s).", i))
			}
			return ManagementResult{Status: ManageOK, ManagementLog: managementLog}
		}

		managementLog = append(managementLog,
			fmt.Sprintf("Iteration %d: Detected %d overloaded transformer(s). Taking corrective action.", i+1, len(overloads)))

		for _, ovl := range overloads {
			id := neighborhoodFromTransformer(ovl.Name)
			if id == -1 {
				continue
			}
			factor := (ovl.RatedKVA * 0.98) / ovl.CurrentKVA
			managementLog = append(managementLog,
				fmt.Sprintf("-> Action: Reducing load in neighborhood %d by factor %.3f.", id, factor))
			c.modifyNeighborhoodLoads(id, factor)
		}
	}

	managementLog = append(managementLog,
		fmt.Sprintf("Warning: System could not be stabilized after %d iterations.", maxIterations))
	return ManagementResult{Status: ManageAlert, ManagementLog: managementLog}
}

// PublishState broadcasts a solved state summary to subscribers.
func (c *Circuit) PublishState(details StateDetails) {
	c.publisher.Publish(msg.Status, details)
}

// PublishActivity broadcasts an audit record to subscribers.
func (c *Circuit) PublishActivity(message string) {
	c.publisher.Publish(msg.Activity, message)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
