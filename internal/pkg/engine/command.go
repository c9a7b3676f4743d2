package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownCommand is returned for verbs the command interpreter does
// not recognize.
var ErrUnknownCommand = errors.New("unknown command")

// ErrElementNotFound is returned when an Edit or property assignment
// targets an element that was never created.
var ErrElementNotFound = errors.New("element not found")

// Command executes a single DSS-style command against the circuit
// model: "New <Class>.<name> key=value ...", "Edit <Class>.<name>
// key=value ...", "Set key=value", "Solve", "Clear", or the direct
// property form "<Class>.<name>.<prop>=<value>".
func (e *Engine) Command(cmd string) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.command(cmd)
}

func (e *Engine) command(cmd string) error {
	tokens := tokenize(cmd)
	if len(tokens) == 0 {
		return nil
	}

	verb := strings.ToLower(tokens[0])
	switch verb {
	case "new":
		if len(tokens) < 2 {
			return fmt.Errorf("new: missing element name in %q", cmd)
		}
		return e.newElement(tokens[1], parseProps(tokens[2:]))
	case "edit":
		if len(tokens) < 2 {
			return fmt.Errorf("edit: missing element name in %q", cmd)
		}
		return e.editElement(tokens[1], parseProps(tokens[2:]))
	case "set":
		for _, p := range parseProps(tokens[1:]) {
			e.options[strings.ToLower(p.key)] = p.value
		}
		return nil
	case "solve":
		return e.solve()
	case "clear", "clearall":
		e.reset()
		return nil
	case "calcvoltagebases":
		return nil
	default:
		// Direct property assignment: Generator.gen_1.kW=250
		if strings.Contains(tokens[0], "=") && strings.Count(strings.SplitN(tokens[0], "=", 2)[0], ".") >= 2 {
			return e.assignProperty(tokens[0])
		}
		return fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}
}

func (e *Engine) assignProperty(expr string) error {
	parts := strings.SplitN(expr, "=", 2)
	ref := strings.Split(parts[0], ".")
	if len(ref) < 3 {
		return fmt.Errorf("malformed property assignment %q", expr)
	}
	fullName := ref[0] + "." + ref[1]
	prop := strings.Join(ref[2:], ".")
	return e.editElement(fullName, []property{{key: prop, value: parts[1]}})
}

// property is a parsed key=value pair. Order is preserved so later
// properties override earlier ones, as the DSS interpreter does.
type property struct {
	key   string
	value string
}

func (e *Engine) newElement(fullName string, props []property) error {
	class, name, err := splitElementName(fullName)
	if err != nil {
		return err
	}

	switch class {
	case "circuit":
		return e.newCircuit(name, props)
	case "line":
		return e.newLine(name, props)
	case "load":
		return e.newLoad(name, props)
	case "generator":
		return e.newGenerator(name, props)
	case "transformer":
		return e.newTransformer(name, props)
	case "regcontrol":
		e.regcontrols[name] = &RegControl{Name: name, Enabled: true}
		return e.applyRegControlProps(e.regcontrols[name], props)
	default:
		return fmt.Errorf("new: unsupported element class %q", class)
	}
}

func (e *Engine) editElement(fullName string, props []property) error {
	class, name, err := splitElementName(fullName)
	if err != nil {
		return err
	}

	switch class {
	case "load":
		ld, ok := e.loads[name]
		if !ok {
			return fmt.Errorf("%w: Load.%s", ErrElementNotFound, name)
		}
		return e.applyLoadProps(ld, props)
	case "generator":
		gen, ok := e.generators[name]
		if !ok {
			return fmt.Errorf("%w: Generator.%s", ErrElementNotFound, name)
		}
		return e.applyGeneratorProps(gen, props)
	case "line":
		ln, ok := e.lines[name]
		if !ok {
			return fmt.Errorf("%w: Line.%s", ErrElementNotFound, name)
		}
		return e.applyLineProps(ln, props)
	case "transformer":
		tr, ok := e.transformers[name]
		if !ok {
			return fmt.Errorf("%w: Transformer.%s", ErrElementNotFound, name)
		}
		return e.applyTransformerProps(tr, props)
	case "regcontrol":
		rc, ok := e.regcontrols[name]
		if !ok {
			return fmt.Errorf("%w: RegControl.%s", ErrElementNotFound, name)
		}
		return e.applyRegControlProps(rc, props)
	default:
		return fmt.Errorf("edit: unsupported element class %q", class)
	}
}

func (e *Engine) newCircuit(name string, props []property) error {
	e.reset()
	e.name = name
	baseKV := 1.0
	source := "sourcebus"
	for _, p := range props {
		switch strings.ToLower(p.key) {
		case "basekv":
			v, err := strconv.ParseFloat(p.value, 64)
			if err != nil {
				return fmt.Errorf("circuit basekv: %v", err)
			}
			baseKV = v
		case "bus1":
			source, _ = splitBusRef(p.value)
		}
	}
	e.sourceBus = source
	e.ensureBus(source, baseKV)
	return nil
}

func (e *Engine) newLine(name string, props []property) error {
	ln := &Line{Name: name, R: 0.05, X: 0.1, Enabled: true}
	if err := e.applyLineProps(ln, props); err != nil {
		return err
	}
	if ln.Bus1 == "" || ln.Bus2 == "" {
		return fmt.Errorf("line %s: both Bus1 and Bus2 are required", name)
	}
	e.lines[name] = ln
	return nil
}

func (e *Engine) newLoad(name string, props []property) error {
	ld := &Load{Name: name, Phases: 1, Model: 1, Conn: "wye", Nodes: []int{1}, Enabled: true}
	if err := e.applyLoadProps(ld, props); err != nil {
		return err
	}
	if ld.Bus1 == "" {
		return fmt.Errorf("load %s: Bus1 is required", name)
	}
	e.loads[name] = ld
	return nil
}

func (e *Engine) newGenerator(name string, props []property) error {
	gen := &Generator{Name: name, Phases: 1, Model: 1, PF: 1.0, Nodes: []int{1}, Enabled: true}
	if err := e.applyGeneratorProps(gen, props); err != nil {
		return err
	}
	if gen.Bus1 == "" {
		return fmt.Errorf("generator %s: Bus1 is required", name)
	}
	e.generators[name] = gen
	return nil
}

func (e *Engine) newTransformer(name string, props []property) error {
	tr := &Transformer{Name: name, Phases: 3, Windings: 2, XHL: 7.0, Enabled: true}
	if err := e.applyTransformerProps(tr, props); err != nil {
		return err
	}
	if len(tr.Buses) < 2 {
		return fmt.Errorf("transformer %s: two winding buses are required", name)
	}
	e.transformers[name] = tr
	return nil
}

func (e *Engine) applyLineProps(ln *Line, props []property) error {
	for _, p := range props {
		switch strings.ToLower(p.key) {
		case "bus1":
			bus, _ := splitBusRef(p.value)
			ln.Bus1 = bus
			e.ensureBus(bus, 0)
		case "bus2":
			bus, _ := splitBusRef(p.value)
			ln.Bus2 = bus
			e.ensureBus(bus, 0)
		case "r", "r1":
			if err := setFloat(&ln.R, p); err != nil {
				return err
			}
		case "x", "x1":
			if err := setFloat(&ln.X, p); err != nil {
				return err
			}
		case "enabled":
			ln.Enabled = parseBool(p.value)
		}
	}
	// Base voltage propagates down the feeder through lines.
	if ln.Bus1 != "" && ln.Bus2 != "" {
		if b1, b2 := e.buses[ln.Bus1], e.buses[ln.Bus2]; b1.KVBase > 0 && b2.KVBase == 0 {
			b2.KVBase = b1.KVBase
		}
	}
	return nil
}

func (e *Engine) applyLoadProps(ld *Load, props []property) error {
	for _, p := range props {
		switch strings.ToLower(p.key) {
		case "bus1":
			bus, nodes := splitBusRef(p.value)
			ld.Bus1 = bus
			if len(nodes) > 0 {
				ld.Nodes = nodes
			}
			e.ensureBus(bus, ld.KV)
		case "kv":
			if err := setFloat(&ld.KV, p); err != nil {
				return err
			}
			if b, ok := e.buses[ld.Bus1]; ok && b.KVBase == 0 {
				b.KVBase = ld.KV
			}
		case "kw":
			if err := setFloat(&ld.KW, p); err != nil {
				return err
			}
		case "kvar":
			if err := setFloat(&ld.KVAR, p); err != nil {
				return err
			}
		case "phases":
			if err := setInt(&ld.Phases, p); err != nil {
				return err
			}
		case "model":
			if err := setInt(&ld.Model, p); err != nil {
				return err
			}
		case "conn":
			ld.Conn = strings.ToLower(p.value)
		case "enabled":
			ld.Enabled = parseBool(p.value)
		}
	}
	return nil
}

func (e *Engine) applyGeneratorProps(gen *Generator, props []property) error {
	for _, p := range props {
		switch strings.ToLower(p.key) {
		case "bus1":
			bus, nodes := splitBusRef(p.value)
			gen.Bus1 = bus
			if len(nodes) > 0 {
				gen.Nodes = nodes
			}
			e.ensureBus(bus, 0)
		case "kv":
			if err := setFloat(&gen.KV, p); err != nil {
				return err
			}
		case "kw":
			if err := setFloat(&gen.KW, p); err != nil {
				return err
			}
		case "kvar":
			if err := setFloat(&gen.KVAR, p); err != nil {
				return err
			}
		case "pf":
			if err := setFloat(&gen.PF, p); err != nil {
				return err
			}
		case "phases":
			if err := setInt(&gen.Phases, p); err != nil {
				return err
			}
		case "model":
			if err := setInt(&gen.Model, p); err != nil {
				return err
			}
		case "enabled":
			gen.Enabled = parseBool(p.value)
		}
	}
	return nil
}

func (e *Engine) applyTransformerProps(tr *Transformer, props []property) error {
	for _, p := range props {
		switch strings.ToLower(p.key) {
		case "buses":
			names := parseList(p.value)
			tr.Buses = tr.Buses[:0]
			for _, n := range names {
				bus, _ := splitBusRef(n)
				tr.Buses = append(tr.Buses, bus)
				e.ensureBus(bus, 0)
			}
		case "kvs":
			vals, err := parseFloatList(p.value)
			if err != nil {
				return fmt.Errorf("transformer %s kVs: %v", tr.Name, err)
			}
			tr.KVs = vals
		case "kvas":
			vals, err := parseFloatList(p.value)
			if err != nil {
				return fmt.Errorf("transformer %s kVAs: %v", tr.Name, err)
			}
			tr.KVAs = vals
		case "conns":
			tr.Conns = parseList(p.value)
		case "xhl":
			if err := setFloat(&tr.XHL, p); err != nil {
				return err
			}
		case "phases":
			if err := setInt(&tr.Phases, p); err != nil {
				return err
			}
		case "windings":
			if err := setInt(&tr.Windings, p); err != nil {
				return err
			}
		case "enabled":
			tr.Enabled = parseBool(p.value)
		}
	}
	// Winding voltages become the base voltage of buses that have none.
	for i, busName := range tr.Buses {
		if i < len(tr.KVs) {
			if b, ok := e.buses[busName]; ok && b.KVBase == 0 {
				b.KVBase = tr.KVs[i]
			}
		}
	}
	return nil
}

func (e *Engine) applyRegControlProps(rc *RegControl, props []property) error {
	for _, p := range props {
		if strings.ToLower(p.key) == "enabled" {
			rc.Enabled = parseBool(p.value)
		}
	}
	return nil
}

func splitElementName(fullName string) (class, name string, err error) {
	parts := strings.SplitN(fullName, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed element name %q, want Class.Name", fullName)
	}
	return strings.ToLower(parts[0]), strings.ToLower(parts[1]), nil
}

// splitBusRef separates a bus reference like "b12.1.2.3" into the bus
// name and its node list.
func splitBusRef(ref string) (string, []int) {
	parts := strings.Split(strings.ToLower(ref), ".")
	nodes := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if n, err := strconv.Atoi(p); err == nil {
			nodes = append(nodes, n)
		}
	}
	return parts[0], nodes
}

func setFloat(dst *float64, p property) error {
	v, err := strconv.ParseFloat(p.value, 64)
	if err != nil {
		return fmt.Errorf("property %s: %v", p.key, err)
	}
	*dst = v
	return nil
}

func setInt(dst *int, p property) error {
	v, err := strconv.Atoi(p.value)
	if err != nil {
		return fmt.Errorf("property %s: %v", p.key, err)
	}
	*dst = v
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "y", "1", "on":
		return true
	}
	return false
}

// parseList splits a bracketed list "[a, b]" into trimmed items.
func parseList(s string) []string {
	s = strings.Trim(s, "[]")
	raw := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	items := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			items = append(items, strings.ToLower(r))
		}
	}
	return items
}

func parseFloatList(s string) ([]float64, error) {
	items := parseList(s)
	vals := make([]float64, 0, len(items))
	for _, it := range items {
		v, err := strconv.ParseFloat(it, 64)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// parseProps pairs up "key=value" tokens. A bare token is treated as a
// flag with an empty value and ignored by the property appliers.
func parseProps(tokens []string) []property {
	props := make([]property, 0, len(tokens))
	for _, tok := range tokens {
		if i := strings.Index(tok, "="); i >= 0 {
			props = append(props, property{key: tok[:i], value: strings.Trim(tok[i+1:], `"'`)})
		}
	}
	return props
}

// tokenize splits a command into fields, keeping bracketed lists
// ("kVs=[4.16, 0.24]") and quoted strings intact as single tokens.
func tokenize(cmd string) []string {
	var tokens []string
	var cur strings.Builder
	depth := 0
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range cmd {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '[':
			depth++
			cur.WriteRune(r)
		case r == ']':
			depth--
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && depth == 0 && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
