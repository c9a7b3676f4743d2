// Package alert pushes critical transformer conditions to an external
// operations endpoint.
package alert

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gridflex/flexsim/internal/pkg/circuit"
)

type config struct {
	URL     string `json:"URL"`
	Timeout int    `json:"TimeoutSeconds"`
}

// Notifier posts transformer alerts to the configured endpoint. A
// Notifier with an empty URL silently drops alerts, so deployments
// without an operations endpoint need no special casing.
type Notifier struct {
	config config
	client *http.Client
}

type payload struct {
	Source       string                      `json:"source"`
	Timestamp    string                      `json:"timestamp"`
	Transformers []circuit.TransformerStatus `json:"transformers"`
}

// New reads the notifier config file.
func New(configPath string) (Notifier, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Notifier{}, err
	}
	return NewFromJSON(jsonConfig)
}

// NewFromJSON builds a Notifier from raw JSON config.
func NewFromJSON(jsonConfig []byte) (Notifier, error) {
	cfg := config{Timeout: 5}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Notifier{}, err
	}
	return Notifier{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// PostCritical sends the non-OK transformers from a managed solve.
// Nothing is sent when all transformers are within rating.
func (n Notifier) PostCritical(source string, statuses []circuit.TransformerStatus) {
	if n.config.URL == "" {
		return
	}
	var critical []circuit.TransformerStatus
	for _, ts := range statuses {
		if ts.Status != circuit.StatusOK {
			critical = append(critical, ts)
		}
	}
	if len(critical) == 0 {
		return
	}

	body, err := json.Marshal(payload{
		Source:       source,
		Timestamp:    time.Now().Format(time.RFC3339),
		Transformers: critical,
	})
	if err != nil {
		log.Println("[Alert]", err)
		return
	}
	resp, err := n.client.Post(n.config.URL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.Println("[Alert]", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Println("[Alert] endpoint returned", resp.Status)
	}
}
