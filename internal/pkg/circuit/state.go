package circuit

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/gridflex/flexsim/internal/pkg/dfp"
	"github.com/gridflex/flexsim/internal/pkg/engine"
)

// Snapshot is the serializable circuit state: the master file plus
// every mutation applied since it was compiled. Restoring replays the
// mutations onto a fresh compile of the same master.
type Snapshot struct {
	MasterFile       string                    `json:"master_file"`
	Loads            []engine.Load             `json:"loads"`
	Generators       []engine.Generator        `json:"generators"`
	Lines            []engine.Line             `json:"lines"`
	LoadOriginalBus  map[string]string         `json:"load_original_bus"`
	Devices          map[string][]Device       `json:"devices"`
	Storage          map[string]*StorageDevice `json:"storage"`
	BusCoordinates   map[string][2]float64     `json:"bus_coordinates"`
	DFPPrograms      []dfp.Program             `json:"dfp_programs"`
	DFPSubscriptions map[string][]string       `json:"dfp_subscriptions"`
}

// State serializes the full circuit state to JSON.
func (c *Circuit) State() ([]byte, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	programs, subs := c.dfps.Snapshot()
	snap := Snapshot{
		MasterFile:       c.masterFile,
		Loads:            c.eng.Loads(),
		Generators:       c.eng.Generators(),
		Lines:            c.eng.Lines(),
		LoadOriginalBus:  c.loadOriginalBus,
		Devices:          c.devices,
		Storage:          c.storage,
		BusCoordinates:   c.busCoordinates,
		DFPPrograms:      programs,
		DFPSubscriptions: subs,
	}
	return json.MarshalIndent(snap, "", "  ")
}

// SetState recompiles the snapshot's master file and replays the
// recorded loads, generators, lines and registry contents onto it.
func (c *Circuit) SetState(raw []byte) error {
	snap := Snapshot{}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	if snap.MasterFile == "" {
		return fmt.Errorf("snapshot has no master file")
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	log.Println("[Circuit] Restoring state from snapshot of", snap.MasterFile)
	if err := c.initialize(snap.MasterFile); err != nil {
		return err
	}

	for _, ln := range snap.Lines {
		if _, ok := c.lineInfo(ln.Name); ok {
			continue
		}
		cmd := fmt.Sprintf("New Line.%s Bus1=%s Bus2=%s R1=%.6f X1=%.6f", ln.Name, ln.Bus1, ln.Bus2, ln.R, ln.X)
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
		if !ln.Enabled {
			if err := c.eng.Command(fmt.Sprintf("edit Line.%s enabled=no", ln.Name)); err != nil {
				return err
			}
		}
	}

	for _, ld := range snap.Loads {
		var cmd string
		if _, ok := c.eng.LoadInfo(ld.Name); ok {
			cmd = fmt.Sprintf("edit Load.%s Bus1=%s kV=%.4f kW=%.4f kvar=%.4f enabled=%s",
				ld.Name, ld.Bus1, ld.KV, ld.KW, ld.KVAR, yesno(ld.Enabled))
		} else {
			cmd = fmt.Sprintf("New Load.%s Bus1=%s Phases=%d kV=%.4f kW=%.4f kvar=%.4f Model=%d enabled=%s",
				ld.Name, ld.Bus1, ld.Phases, ld.KV, ld.KW, ld.KVAR, ld.Model, yesno(ld.Enabled))
		}
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
	}

	for _, g := range snap.Generators {
		var cmd string
		if _, ok := c.eng.GeneratorInfo(g.Name); ok {
			cmd = fmt.Sprintf("edit Generator.%s kW=%.4f enabled=%s", g.Name, g.KW, yesno(g.Enabled))
		} else {
			cmd = fmt.Sprintf("New Generator.%s Bus1=%s Phases=%d kV=%.4f kW=%.4f PF=%.2f Model=%d enabled=%s",
				g.Name, g.Bus1, g.Phases, g.KV, g.KW, g.PF, g.Model, yesno(g.Enabled))
		}
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
	}

	if snap.LoadOriginalBus != nil {
		c.loadOriginalBus = snap.LoadOriginalBus
	}
	c.rebuildCapacities()
	if snap.Devices != nil {
		c.devices = snap.Devices
	}
	if snap.Storage != nil {
		c.storage = snap.Storage
	}
	if snap.BusCoordinates != nil {
		c.busCoordinates = snap.BusCoordinates
	}
	c.dfps.Restore(snap.DFPPrograms, snap.DFPSubscriptions)
	return nil
}

func (c *Circuit) lineInfo(name string) (engine.Line, bool) {
	for _, ln := range c.eng.Lines() {
		if ln.Name == name {
			return ln, true
		}
	}
	return engine.Line{}, false
}

func yesno(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
