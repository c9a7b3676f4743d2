package engine

import (
	"errors"
	"math"
	"sort"

	"github.com/katalvlaran/lvlath/core"
)

// branch is the series element connecting a bus to its feeder parent.
type branch struct {
	line *Line
	xfmr *Transformer
	// forward is true when the parent side is the element's Bus1 /
	// primary winding.
	forward bool
}

// solve runs a forward-sweep snapshot solution: breadth-first ordering
// from the source over the topology graph, downstream power
// accumulation with series losses, then a voltage-drop pass. The caller
// holds the engine mutex.
//
// Single-phase Model=3 generators deliver half their nameplate kW, the
// line-to-neutral artifact the service layer compensates for when it
// creates them.
func (e *Engine) solve() error {
	e.converged = false
	e.totalLossKW = 0
	for _, b := range e.buses {
		b.VMagPU = 0
		b.VAngleDeg = 0
	}
	for _, tr := range e.transformers {
		tr.FlowKW = 0
		tr.FlowKVAR = 0
	}

	if e.sourceBus == "" {
		return errors.New("solve: no energized source, compile a circuit first")
	}

	g, err := core.NewGraph()
	if err != nil {
		return err
	}
	for name := range e.buses {
		if err := g.AddVertex(name); err != nil {
			return err
		}
	}

	branches := make(map[string]branch)
	pairKey := func(a, b string) string {
		if a < b {
			return a + "|" + b
		}
		return b + "|" + a
	}
	for _, ln := range e.lines {
		if !ln.Enabled || ln.Bus1 == ln.Bus2 {
			continue
		}
		if !g.HasEdge(ln.Bus1, ln.Bus2) {
			if _, err := g.AddEdge(ln.Bus1, ln.Bus2, 0); err != nil {
				return err
			}
		}
		branches[pairKey(ln.Bus1, ln.Bus2)] = branch{line: ln}
	}
	for _, tr := range e.transformers {
		if !tr.Enabled || len(tr.Buses) < 2 || tr.Buses[0] == tr.Buses[1] {
			continue
		}
		if !g.HasEdge(tr.Buses[0], tr.Buses[1]) {
			if _, err := g.AddEdge(tr.Buses[0], tr.Buses[1], 0); err != nil {
				return err
			}
		}
		branches[pairKey(tr.Buses[0], tr.Buses[1])] = branch{xfmr: tr}
	}

	// Breadth-first feeder ordering from the source.
	order := []string{e.sourceBus}
	parent := map[string]string{}
	visited := map[string]bool{e.sourceBus: true}
	for i := 0; i < len(order); i++ {
		u := order[i]
		nbrs, err := g.NeighborIDs(u)
		if err != nil {
			return err
		}
		sort.Strings(nbrs)
		for _, v := range nbrs {
			if !visited[v] {
				visited[v] = true
				parent[v] = u
				order = append(order, v)
			}
		}
	}

	// Net local injections per bus; loads positive, generation negative.
	localP := make(map[string]float64, len(e.buses))
	localQ := make(map[string]float64, len(e.buses))
	servedLoad := true
	for _, ld := range e.loads {
		if !ld.Enabled {
			continue
		}
		if !visited[ld.Bus1] {
			servedLoad = false
			continue
		}
		localP[ld.Bus1] += ld.KW
		localQ[ld.Bus1] += ld.KVAR
	}
	for _, gen := range e.generators {
		if !gen.Enabled || !visited[gen.Bus1] {
			continue
		}
		kw := gen.EffectiveKW()
		localP[gen.Bus1] -= kw
		localQ[gen.Bus1] -= reactiveFor(kw, gen.PF, gen.KVAR)
	}

	// Reverse sweep: accumulate downstream flow and branch losses.
	downP := localP
	downQ := localQ
	flowP := make(map[string]float64, len(order))
	flowQ := make(map[string]float64, len(order))
	for i := len(order) - 1; i > 0; i-- {
		u := order[i]
		p := parent[u]
		br, ok := branches[pairKey(u, p)]
		if !ok {
			continue
		}
		fp, fq := downP[u], downQ[u]
		flowP[u], flowQ[u] = fp, fq

		loss := branchLossKW(br, fp, fq, e.buses[p].KVBase)
		e.totalLossKW += loss

		if br.xfmr != nil {
			br.xfmr.FlowKW = fp + loss
			br.xfmr.FlowKVAR = fq
		}
		downP[p] += fp + loss
		downQ[p] += fq
	}

	// Forward sweep: per-unit voltage drop from the source out.
	e.buses[e.sourceBus].VMagPU = 1.0
	ok := true
	for _, u := range order[1:] {
		p := parent[u]
		br := branches[pairKey(u, p)]
		vp := e.buses[p].VMagPU
		ap := e.buses[p].VAngleDeg

		dv, da := branchDrop(br, flowP[u], flowQ[u], e.buses[p].KVBase)
		e.buses[u].VMagPU = vp - dv
		e.buses[u].VAngleDeg = ap - da

		if e.buses[u].VMagPU < 0.5 || math.IsNaN(e.buses[u].VMagPU) {
			ok = false
		}
	}

	e.converged = ok && servedLoad
	return nil
}

// EffectiveKW is the real power the generator actually injects.
// Single-phase Model=3 units deliver half their nameplate setting.
func (g *Generator) EffectiveKW() float64 {
	if g.Phases == 1 && g.Model == 3 {
		return g.KW / 2
	}
	return g.KW
}

// reactiveFor derives kvar from a power factor when no explicit kvar
// was given.
func reactiveFor(kw, pf, kvar float64) float64 {
	if kvar != 0 {
		return kvar
	}
	if pf <= 0 || pf >= 1 {
		return 0
	}
	return kw * math.Tan(math.Acos(pf))
}

// branchLossKW estimates series real losses for the power flowing
// through a branch.
func branchLossKW(br branch, pKW, qKVAR, kvBase float64) float64 {
	s2 := pKW*pKW + qKVAR*qKVAR
	if s2 == 0 {
		return 0
	}
	if br.line != nil {
		kv := kvBase
		if kv <= 0 {
			kv = 1.0
		}
		return br.line.R * s2 / (kv * kv * 1e3)
	}
	// Transformers: copper loss proportional to through-power.
	return 0.01 * math.Sqrt(s2)
}

// branchDrop estimates the per-unit voltage magnitude drop and the
// angle shift in degrees across a branch.
func branchDrop(br branch, pKW, qKVAR, kvBase float64) (float64, float64) {
	if br.line != nil {
		kv := kvBase
		if kv <= 0 {
			kv = 1.0
		}
		denom := kv * kv * 1e3
		dv := (pKW*br.line.R + qKVAR*br.line.X) / denom
		da := (pKW*br.line.X - qKVAR*br.line.R) / denom * (180 / math.Pi)
		return dv, da
	}
	if br.xfmr != nil {
		rated := br.xfmr.RatedKVA()
		if rated <= 0 {
			return 0, 0
		}
		s := math.Hypot(pKW, qKVAR)
		dv := (br.xfmr.XHL / 100) * (s / rated)
		return dv, dv * 30
	}
	return 0, 0
}
