// Package reports renders circuit state into the plain-text report
// files operators tail: the latest API results, the management log, the
// critical transformer list, the program registry and the program
// activity log.
package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gridflex/flexsim/internal/pkg/circuit"
	"github.com/gridflex/flexsim/internal/pkg/dfp"
)

// File names under the report directory.
const (
	APIResultsFile    = "latest_api_results.txt"
	ManagementLogFile = "management_log.txt"
	CriticalFile      = "critical.txt"
	DFPRegistryFile   = "dfp_registry.txt"
	DFPLogFile        = "dfps_logs.txt"
)

// Writer renders report files into one directory. The activity log is
// append-only; everything else is rewritten whole.
type Writer struct {
	mux *sync.Mutex
	dir string
	now func() time.Time
}

// NewWriter creates the report directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Writer{mux: &sync.Mutex{}, dir: dir, now: time.Now}, nil
}

// Dir returns the report directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteAPIResults records the response body of the most recent state
// query.
func (w *Writer) WriteAPIResults(v interface{}) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "=== Latest API Results (%s) ===\n\n", w.stamp())
	b.Write(body)
	b.WriteString("\n")
	return w.writeFile(APIResultsFile, b.String())
}

// WriteManagementLog records the corrective actions of the last managed
// solve.
func (w *Writer) WriteManagementLog(result circuit.ManagementResult) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "=== Management Log (%s) ===\n", w.stamp())
	fmt.Fprintf(&b, "Status: %s\n\n", result.Status)
	if len(result.ManagementLog) == 0 {
		b.WriteString("No corrective actions were required.\n")
	}
	for _, line := range result.ManagementLog {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return w.writeFile(ManagementLogFile, b.String())
}

// WriteCritical records the transformers running above their warning
// threshold. An empty list still rewrites the file so stale alerts do
// not linger.
func (w *Writer) WriteCritical(statuses []circuit.TransformerStatus) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "=== Critical Transformers (%s) ===\n\n", w.stamp())
	critical := 0
	for _, ts := range statuses {
		if ts.Status == circuit.StatusOK {
			continue
		}
		critical++
		fmt.Fprintf(&b, "%-20s %10.2f kVA rated %10.2f kVA actual %7.2f%% [%s]\n",
			ts.Name, ts.RatedKVA, ts.CurrentKVA, ts.LoadingPercent, ts.Status)
	}
	if critical == 0 {
		b.WriteString("All transformers within rating.\n")
	}
	return w.writeFile(CriticalFile, b.String())
}

// WriteDFPRegistry records the current program table.
func (w *Writer) WriteDFPRegistry(programs []dfp.Program) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "=== DFP Registry (%s) ===\n\n", w.stamp())
	if len(programs) == 0 {
		b.WriteString("No programs registered.\n")
	}
	for _, p := range programs {
		fmt.Fprintf(&b, "[%d] %s\n", p.Index, p.Name)
		if p.Description != "" {
			fmt.Fprintf(&b, "    %s\n", p.Description)
		}
		fmt.Fprintf(&b, "    min power: %.2f kW, target pf: %.2f, registered: %s\n",
			p.MinPowerKW, p.TargetPF, p.RegisteredAt)
	}
	return w.writeFile(DFPRegistryFile, b.String())
}

// AppendDFPLog appends one timestamped line to the program activity
// log.
func (w *Writer) AppendDFPLog(format string, args ...interface{}) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	f, err := os.OpenFile(filepath.Join(w.dir, DFPLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", w.stamp(), fmt.Sprintf(format, args...))
	return err
}

func (w *Writer) writeFile(name, contents string) error {
	return os.WriteFile(filepath.Join(w.dir, name), []byte(contents), 0644)
}

func (w *Writer) stamp() string {
	return w.now().Format("2006-01-02 15:04:05")
}
