package circuit

import (
	"fmt"
	"log"
	"math"
	"strings"
)

// ModifyNeighborhoodLoads scales every load in a neighborhood by the
// given factor. Returns the number of loads changed.
func (c *Circuit) ModifyNeighborhoodLoads(id int, factor float64) (int, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if _, ok := c.neighborhoods[id]; !ok {
		return 0, fmt.Errorf("neighborhood %d %w", id, ErrNotFound)
	}
	return c.modifyNeighborhoodLoads(id, factor), nil
}

func (c *Circuit) modifyNeighborhoodLoads(id int, factor float64) int {
	members := c.neighborhoods[id]
	changed := 0
	for loadName, origBus := range c.loadOriginalBus {
		if !contains(members, origBus) {
			continue
		}
		ld, ok := c.eng.LoadInfo(loadName)
		if !ok || !ld.Enabled {
			continue
		}
		cmd := fmt.Sprintf("edit Load.%s kW=%.4f kvar=%.4f", loadName, ld.KW*factor, ld.KVAR*factor)
		if err := c.eng.Command(cmd); err != nil {
			log.Println("[Circuit] modify load:", err)
			continue
		}
		c.cap(origBus).LoadKW -= ld.KW - ld.KW*factor
		changed++
	}
	return changed
}

// ModifyBusLoads scales every load attached to a bus by the given
// factor, matching on the load's original bus so rewired neighborhood
// loads are still addressable by their upstream bus.
func (c *Circuit) ModifyBusLoads(bus string, factor float64) (int, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return 0, fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	changed := 0
	for loadName, origBus := range c.loadOriginalBus {
		if origBus != bus {
			continue
		}
		ld, ok := c.eng.LoadInfo(loadName)
		if !ok || !ld.Enabled {
			continue
		}
		cmd := fmt.Sprintf("edit Load.%s kW=%.4f kvar=%.4f", loadName, ld.KW*factor, ld.KVAR*factor)
		if err := c.eng.Command(cmd); err != nil {
			return changed, err
		}
		c.cap(origBus).LoadKW -= ld.KW - ld.KW*factor
		changed++
	}
	return changed, nil
}

// AddDevice attaches a named device to a bus. The engine load lands on
// the bus's neighborhood transformer secondary at service voltage, so
// the device's draw flows through the transformer, while the ledger and
// the original-bus map keep it addressable by the bus itself.
func (c *Circuit) AddDevice(bus, name string, kw float64) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	id := -1
	for nid, buses := range c.neighborhoods {
		if contains(buses, bus) {
			id = nid
			break
		}
	}
	if id == -1 {
		return fmt.Errorf("bus %s is not in a neighborhood", bus)
	}
	primary, ok := c.xfmrPrimaries[id]
	if !ok {
		return fmt.Errorf("neighborhood %d has no service transformer", id)
	}
	for _, d := range c.devices[bus] {
		if strings.EqualFold(d.DeviceName, name) {
			return fmt.Errorf("device %s already exists on bus %s", name, bus)
		}
	}
	loadName := fmt.Sprintf("dev_%s_%s", bus, strings.ToLower(name))
	cmd := fmt.Sprintf("New Load.%s Bus1=%s_sec Phases=1 Conn=Wye kV=%.2f kW=%.4f kvar=0 Model=1",
		loadName, primary, c.cfg.SecondaryKV, kw)
	if err := c.eng.Command(cmd); err != nil {
		return err
	}
	c.loadOriginalBus[loadName] = bus
	c.cap(bus).LoadKW += kw
	c.devices[bus] = append(c.devices[bus], Device{DeviceName: name, KW: kw})
	return nil
}

// DisconnectDevice removes a named device from a bus and disables its
// engine load.
func (c *Circuit) DisconnectDevice(bus, name string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	list, ok := c.devices[bus]
	if !ok {
		return fmt.Errorf("bus %s has no devices: %w", bus, ErrNotFound)
	}
	for i, d := range list {
		if strings.EqualFold(d.DeviceName, name) {
			loadName := fmt.Sprintf("dev_%s_%s", bus, strings.ToLower(name))
			ld, tracked := c.eng.LoadInfo(loadName)
			if err := c.eng.Command(fmt.Sprintf("edit Load.%s enabled=no", loadName)); err != nil {
				return err
			}
			if tracked && ld.Enabled {
				c.cap(bus).LoadKW -= ld.KW
			}
			delete(c.loadOriginalBus, loadName)
			c.devices[bus] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("device %s on bus %s: %w", name, bus, ErrNotFound)
}

// ModifyHighWattageDevices scales every device on a bus whose draw is
// at or above the threshold. Returns the names of the devices changed.
func (c *Circuit) ModifyHighWattageDevices(bus string, thresholdKW, factor float64) ([]string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	list, ok := c.devices[bus]
	if !ok {
		return nil, fmt.Errorf("bus %s has no devices: %w", bus, ErrNotFound)
	}
	var changed []string
	for i, d := range list {
		if d.KW < thresholdKW {
			continue
		}
		loadName := fmt.Sprintf("dev_%s_%s", bus, strings.ToLower(d.DeviceName))
		newKW := d.KW * factor
		ld, tracked := c.eng.LoadInfo(loadName)
		if err := c.eng.Command(fmt.Sprintf("edit Load.%s kW=%.4f", loadName, newKW)); err != nil {
			return changed, err
		}
		if tracked && ld.Enabled {
			c.cap(bus).LoadKW -= ld.KW - newKW
		}
		c.devices[bus][i].KW = newKW
		changed = append(changed, d.DeviceName)
	}
	return changed, nil
}

// AddGeneration adds or retargets generation on a bus. Three-phase
// units run constant-PF at the bus base voltage. Single-phase units run
// as constant-power injections at line-to-neutral voltage, and their
// setpoint is doubled to compensate for the half-delivery behavior of
// that model.
func (c *Circuit) AddGeneration(bus string, kw float64, phases int) (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	info, ok := c.eng.BusInfo(bus)
	if !ok {
		return "", fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	if phases != 1 && phases != 3 {
		return "", fmt.Errorf("phases must be 1 or 3, got %d", phases)
	}

	genName := fmt.Sprintf("gen_%s_%dph", bus, phases)
	if existing, exists := c.eng.GeneratorInfo(genName); exists {
		setKW := kw
		if phases == 1 {
			setKW = kw * 2
		}
		if err := c.eng.Command(fmt.Sprintf("Generator.%s.kW=%.4f", genName, setKW)); err != nil {
			return "", err
		}
		c.cap(bus).GenKW += kw - existing.EffectiveKW()
		return genName, nil
	}

	var cmd string
	if phases == 3 {
		cmd = fmt.Sprintf("New Generator.%s Bus1=%s Phases=3 kV=%.4f kW=%.4f PF=1.0 Model=1",
			genName, bus, info.KVBase, kw)
	} else {
		cmd = fmt.Sprintf("New Generator.%s Bus1=%s.1 Phases=1 kV=%.4f kW=%.4f PF=1.0 Model=3",
			genName, bus, info.KVBase/math.Sqrt(3), kw*2)
	}
	if err := c.eng.Command(cmd); err != nil {
		return "", err
	}
	c.cap(bus).GenKW += kw
	return genName, nil
}

// AddStorage registers a storage device on a bus. The device starts
// idle and takes effect on the circuit when toggled.
func (c *Circuit) AddStorage(bus, name string, capacityKWH, chargeKW, dischargeKW float64) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	key := strings.ToLower(name)
	if _, exists := c.storage[key]; exists {
		return fmt.Errorf("storage device %s already exists", name)
	}
	c.storage[key] = &StorageDevice{
		DeviceName:       name,
		Bus:              bus,
		MaxCapacityKWh:   capacityKWH,
		CurrentEnergyKWh: capacityKWH / 2,
		ChargeRateKW:     chargeKW,
		DischargeRateKW:  dischargeKW,
		Mode:             ModeIdle,
	}
	return nil
}

// ToggleStorage switches a storage device between idle, charging and
// discharging. Charging presents as a load at the charge rate,
// discharging as single-phase generation at the discharge rate.
func (c *Circuit) ToggleStorage(name, mode string) (*StorageDevice, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	key := strings.ToLower(name)
	sd, ok := c.storage[key]
	if !ok {
		return nil, fmt.Errorf("storage device %s %w", name, ErrNotFound)
	}
	info, ok := c.eng.BusInfo(sd.Bus)
	if !ok {
		return nil, fmt.Errorf("bus %s %w", sd.Bus, ErrNotFound)
	}

	loadName := "stor_ld_" + key
	genName := "stor_gen_" + key

	clear := func() error {
		if _, exists := c.eng.LoadInfo(loadName); exists {
			if err := c.eng.Command(fmt.Sprintf("edit Load.%s enabled=no", loadName)); err != nil {
				return err
			}
		}
		if _, exists := c.eng.GeneratorInfo(genName); exists {
			if err := c.eng.Command(fmt.Sprintf("edit Generator.%s enabled=no", genName)); err != nil {
				return err
			}
		}
		return nil
	}

	switch strings.ToLower(mode) {
	case ModeIdle:
		if err := clear(); err != nil {
			return nil, err
		}
		sd.Mode = ModeIdle

	case ModeCharging:
		if sd.CurrentEnergyKWh >= sd.MaxCapacityKWh {
			return nil, fmt.Errorf("storage device %s is full", name)
		}
		if err := clear(); err != nil {
			return nil, err
		}
		var cmd string
		if _, exists := c.eng.LoadInfo(loadName); exists {
			cmd = fmt.Sprintf("edit Load.%s enabled=yes kW=%.4f", loadName, sd.ChargeRateKW)
		} else {
			cmd = fmt.Sprintf("New Load.%s Bus1=%s Phases=1 kV=%.4f kW=%.4f kvar=0 Model=1",
				loadName, sd.Bus, info.KVBase, sd.ChargeRateKW)
		}
		if err := c.eng.Command(cmd); err != nil {
			return nil, err
		}
		sd.CurrentEnergyKWh = math.Min(sd.MaxCapacityKWh, sd.CurrentEnergyKWh+sd.ChargeRateKW)
		sd.Mode = ModeCharging

	case ModeDischarging:
		if sd.CurrentEnergyKWh <= 0 {
			return nil, fmt.Errorf("storage device %s is empty", name)
		}
		if err := clear(); err != nil {
			return nil, err
		}
		var cmd string
		if _, exists := c.eng.GeneratorInfo(genName); exists {
			cmd = fmt.Sprintf("edit Generator.%s enabled=yes kW=%.4f", genName, sd.DischargeRateKW)
		} else {
			cmd = fmt.Sprintf("New Generator.%s Bus1=%s Phases=1 kV=%.4f kW=%.4f PF=1.0 Model=1",
				genName, sd.Bus, info.KVBase, sd.DischargeRateKW)
		}
		if err := c.eng.Command(cmd); err != nil {
			return nil, err
		}
		sd.CurrentEnergyKWh = math.Max(0, sd.CurrentEnergyKWh-sd.DischargeRateKW)
		sd.Mode = ModeDischarging

	default:
		return nil, fmt.Errorf("unknown storage mode %q", mode)
	}

	out := *sd
	return &out, nil
}

// AddNode creates a new bus connected to one or more existing buses by
// short lines, optionally with an initial load, and enrolls it in a
// neighborhood.
func (c *Circuit) AddNode(name string, neighborhoodID int, coordinates [2]float64, connections []string, loadKW, loadKVAR float64) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	name = strings.ToLower(name)
	if _, exists := c.eng.BusInfo(name); exists {
		return fmt.Errorf("bus %s already exists", name)
	}
	if len(connections) == 0 {
		return fmt.Errorf("node %s: at least one connection is required", name)
	}
	if _, ok := c.neighborhoods[neighborhoodID]; !ok {
		return fmt.Errorf("neighborhood %d %w", neighborhoodID, ErrNotFound)
	}

	var kvBase float64
	for _, conn := range connections {
		conn = strings.ToLower(conn)
		info, ok := c.eng.BusInfo(conn)
		if !ok {
			return fmt.Errorf("bus %s %w", conn, ErrNotFound)
		}
		if kvBase == 0 {
			kvBase = info.KVBase
		}
		lineName := fmt.Sprintf("line_%s_%s", conn, name)
		cmd := fmt.Sprintf("New Line.%s Bus1=%s Bus2=%s R1=0.05 X1=0.05", lineName, conn, name)
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
	}
	if loadKW > 0 {
		loadName := "load_" + name
		cmd := fmt.Sprintf("New Load.%s Bus1=%s Phases=1 kV=%.4f kW=%.4f kvar=%.4f Model=1",
			loadName, name, kvBase, loadKW, loadKVAR)
		if err := c.eng.Command(cmd); err != nil {
			return err
		}
		c.loadOriginalBus[loadName] = name
		c.cap(name).LoadKW += loadKW
	}
	c.neighborhoods[neighborhoodID] = append(c.neighborhoods[neighborhoodID], name)
	c.busCoordinates[name] = coordinates
	return nil
}

// ModifyNode retargets the aggregate load on a bus to new absolute
// values. A nil field keeps the current value.
func (c *Circuit) ModifyNode(name string, loadKW, loadKVAR *float64) (int, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	name = strings.ToLower(name)
	if _, ok := c.eng.BusInfo(name); !ok {
		return 0, fmt.Errorf("bus %s %w", name, ErrNotFound)
	}

	var names []string
	totalKW, totalKVAR := 0.0, 0.0
	for loadName, origBus := range c.loadOriginalBus {
		if origBus != name {
			continue
		}
		if ld, ok := c.eng.LoadInfo(loadName); ok && ld.Enabled {
			names = append(names, loadName)
			totalKW += ld.KW
			totalKVAR += ld.KVAR
		}
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("bus %s has no loads", name)
	}

	// Scale each load proportionally so the bus total hits the target.
	for _, loadName := range names {
		ld, _ := c.eng.LoadInfo(loadName)
		newKW, newKVAR := ld.KW, ld.KVAR
		if loadKW != nil && totalKW > 0 {
			newKW = ld.KW / totalKW * *loadKW
		}
		if loadKVAR != nil && totalKVAR > 0 {
			newKVAR = ld.KVAR / totalKVAR * *loadKVAR
		}
		cmd := fmt.Sprintf("edit Load.%s kW=%.4f kvar=%.4f", loadName, newKW, newKVAR)
		if err := c.eng.Command(cmd); err != nil {
			return 0, err
		}
	}
	if loadKW != nil && totalKW > 0 {
		c.cap(name).LoadKW += *loadKW - totalKW
	}
	return len(names), nil
}

// DeleteNode disables the loads and connecting lines of a bus. Only
// buses created through AddNode carry coordinates; deleting a base
// circuit bus is rejected.
func (c *Circuit) DeleteNode(name string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	name = strings.ToLower(name)
	if _, ok := c.busCoordinates[name]; !ok {
		return fmt.Errorf("bus %s is not a user-created node", name)
	}
	for loadName, origBus := range c.loadOriginalBus {
		if origBus != name {
			continue
		}
		if err := c.eng.Command(fmt.Sprintf("edit Load.%s enabled=no", loadName)); err != nil {
			return err
		}
		delete(c.loadOriginalBus, loadName)
	}
	for _, ln := range c.eng.Lines() {
		if ln.Bus1 == name || ln.Bus2 == name {
			if err := c.eng.Command(fmt.Sprintf("edit Line.%s enabled=no", ln.Name)); err != nil {
				return err
			}
		}
	}
	for id, buses := range c.neighborhoods {
		for i, b := range buses {
			if b == name {
				c.neighborhoods[id] = append(buses[:i], buses[i+1:]...)
				break
			}
		}
	}
	delete(c.busCoordinates, name)
	delete(c.busCapacities, name)
	return nil
}
