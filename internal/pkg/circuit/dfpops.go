package circuit

import (
	"fmt"
	"math"
	"strings"
)

// ExecuteDFP runs a registered program: every subscribed bus whose
// aggregate load exceeds the program floor is curtailed down to it,
// with reactive power retargeted to the program power factor. Returns
// one participation record per curtailed bus.
func (c *Circuit) ExecuteDFP(name string) ([]Participation, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	prog, ok := c.dfps.Program(name)
	if !ok {
		return nil, fmt.Errorf("program %s %w", name, ErrNotFound)
	}

	var participations []Participation
	for _, bus := range c.dfps.Subscribers(prog.Name) {
		busLoad := 0.0
		for loadName, origBus := range c.loadOriginalBus {
			if origBus != bus {
				continue
			}
			if ld, ok := c.eng.LoadInfo(loadName); ok && ld.Enabled {
				busLoad += ld.KW
			}
		}
		if busLoad <= prog.MinPowerKW {
			continue
		}

		factor := prog.MinPowerKW / busLoad
		tanPhi := math.Tan(math.Acos(prog.TargetPF))
		for loadName, origBus := range c.loadOriginalBus {
			if origBus != bus {
				continue
			}
			ld, ok := c.eng.LoadInfo(loadName)
			if !ok || !ld.Enabled {
				continue
			}
			newKW := ld.KW * factor
			cmd := fmt.Sprintf("edit Load.%s kW=%.4f kvar=%.4f", loadName, newKW, newKW*tanPhi)
			if err := c.eng.Command(cmd); err != nil {
				return participations, err
			}
		}
		c.cap(bus).LoadKW -= busLoad - prog.MinPowerKW
		participations = append(participations, Participation{
			Bus:         bus,
			BeforeKW:    round(busLoad, 2),
			AfterKW:     round(prog.MinPowerKW, 2),
			CurtailedKW: round(busLoad-prog.MinPowerKW, 2),
		})
	}
	return participations, nil
}

// SubscribeDFP enrolls one bus in a registered program. The bus must
// exist on the compiled circuit.
func (c *Circuit) SubscribeDFP(bus, name string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	return c.dfps.Subscribe(bus, name)
}

// UnsubscribeDFP removes one bus from a registered program.
func (c *Circuit) UnsubscribeDFP(bus, name string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	bus = strings.ToLower(bus)
	if _, ok := c.eng.BusInfo(bus); !ok {
		return fmt.Errorf("bus %s %w", bus, ErrNotFound)
	}
	return c.dfps.Unsubscribe(bus, name)
}

// SendDFPToNeighborhood enrolls every bus of a neighborhood in a
// registered program. Returns the buses enrolled.
func (c *Circuit) SendDFPToNeighborhood(id int, name string) ([]string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	buses, ok := c.neighborhoods[id]
	if !ok {
		return nil, fmt.Errorf("neighborhood %d %w", id, ErrNotFound)
	}
	if _, ok := c.dfps.Program(name); !ok {
		return nil, fmt.Errorf("program %s %w", name, ErrNotFound)
	}
	var enrolled []string
	for _, bus := range buses {
		if err := c.dfps.Subscribe(bus, name); err != nil {
			return enrolled, err
		}
		enrolled = append(enrolled, strings.ToLower(bus))
	}
	return enrolled, nil
}
