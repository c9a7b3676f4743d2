// Package webservice exposes the circuit over HTTP: utility routes for
// grid-level operations, user routes for per-bus equipment, dashboard
// routes for system management, and a websocket feed of state
// summaries.
package webservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/gridflex/flexsim/internal/pkg/alert"
	"github.com/gridflex/flexsim/internal/pkg/circuit"
	"github.com/gridflex/flexsim/internal/pkg/dfp"
	"github.com/gridflex/flexsim/internal/pkg/reports"
)

// Config holds the server's listen address and working directories.
type Config struct {
	Address        string `json:"Address"`
	TestSystemsDir string `json:"TestSystemsDir"`
	CacheDir       string `json:"CacheDir"`
}

// Server routes HTTP traffic to one Circuit.
type Server struct {
	cfg      Config
	circuit  *circuit.Circuit
	reports  *reports.Writer
	notifier alert.Notifier
	router   *mux.Router
	hub      *hub
}

// New reads the server config file and assembles the route table.
func New(configPath string, c *circuit.Circuit, w *reports.Writer, n alert.Notifier) (*Server, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	return NewServer(cfg, c, w, n)
}

// NewServer assembles the route table from an in-memory config.
func NewServer(cfg Config, c *circuit.Circuit, w *reports.Writer, n alert.Notifier) (*Server, error) {
	if cfg.Address == "" {
		cfg.Address = ":5000"
	}
	for _, dir := range []string{cfg.TestSystemsDir, cfg.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:      cfg,
		circuit:  c,
		reports:  w,
		notifier: n,
		router:   mux.NewRouter(),
		hub:      newHub(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	r := s.router

	// Utility routes.
	r.HandleFunc("/get_node_data", s.getNodeData).Methods("GET")
	r.HandleFunc("/get_node_details", s.getNodeDetails).Methods("POST")
	r.HandleFunc("/modify_load_neighbourhood", s.modifyLoadNeighbourhood).Methods("POST")
	r.HandleFunc("/modify_load_node", s.modifyLoadNode).Methods("POST")
	r.HandleFunc("/register_dfp", s.registerDFP).Methods("POST")
	r.HandleFunc("/update_dfp", s.updateDFP).Methods("PUT")
	r.HandleFunc("/execute_dfp", s.executeDFP).Methods("POST")
	r.HandleFunc("/delete_dfp", s.deleteDFP).Methods("DELETE")
	r.HandleFunc("/add_node", s.addNode).Methods("POST")
	r.HandleFunc("/modify_node", s.modifyNode).Methods("POST")
	r.HandleFunc("/delete_node", s.deleteNode).Methods("POST")
	r.HandleFunc("/get_dfp_details", s.getDFPDetails).Methods("GET")
	r.HandleFunc("/send_dfp_to_neighbourhood", s.sendDFPToNeighbourhood).Methods("POST")

	// User routes.
	r.HandleFunc("/add_generator", s.addGenerator).Methods("POST")
	r.HandleFunc("/add_device", s.addDevice).Methods("POST")
	r.HandleFunc("/subscribe_dfp", s.subscribeDFP).Methods("POST")
	r.HandleFunc("/unsubscribe_dfp", s.unsubscribeDFP).Methods("POST")
	r.HandleFunc("/modify_devices_in_node", s.modifyDevicesInNode).Methods("POST")
	r.HandleFunc("/disconnect_device", s.disconnectDevice).Methods("POST")
	r.HandleFunc("/add_storage_device", s.addStorageDevice).Methods("POST")
	r.HandleFunc("/toggle_storage_device", s.toggleStorageDevice).Methods("POST")

	// Dashboard routes.
	r.HandleFunc("/upload_test_system", s.uploadTestSystem).Methods("POST")
	r.HandleFunc("/switch_active_system", s.switchActiveSystem).Methods("POST")
	r.HandleFunc("/save_cache", s.saveCache).Methods("POST")
	r.HandleFunc("/load_cache", s.loadCache).Methods("POST")
	r.HandleFunc("/reset_simulation", s.resetSimulation).Methods("POST")

	// Live stream.
	r.HandleFunc("/ws/status", s.statusStream).Methods("GET")
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe blocks serving HTTP on the configured address.
func (s *Server) ListenAndServe() error {
	log.Println("[Webservice] Listening on", s.cfg.Address)
	return http.ListenAndServe(s.cfg.Address, s.router)
}

// runAndUpdateState solves the circuit, regenerates the report files,
// raises alerts and pushes the summary to subscribers and websocket
// clients. Called after every mutating request.
func (s *Server) runAndUpdateState() circuit.StateDetails {
	result := s.circuit.SolveAndManage(10)
	details := s.circuit.StateDetails(result)

	if s.reports != nil {
		if err := s.reports.WriteAPIResults(details); err != nil {
			log.Println("[Webservice]", err)
		}
		if err := s.reports.WriteManagementLog(result); err != nil {
			log.Println("[Webservice]", err)
		}
		if err := s.reports.WriteCritical(s.circuit.TransformerStatuses()); err != nil {
			log.Println("[Webservice]", err)
		}
		if err := s.reports.WriteDFPRegistry(s.circuit.DFPs().Programs()); err != nil {
			log.Println("[Webservice]", err)
		}
	}
	s.notifier.PostCritical(s.circuit.MasterFile(), s.circuit.TransformerStatuses())
	s.circuit.PublishState(details)
	s.hub.broadcast(details)
	return details
}

func (s *Server) logDFPActivity(format string, args ...interface{}) {
	s.circuit.PublishActivity(fmt.Sprintf(format, args...))
	if s.reports == nil {
		return
	}
	if err := s.reports.AppendDFPLog(format, args...); err != nil {
		log.Println("[Webservice]", err)
	}
	if err := s.reports.WriteDFPRegistry(s.circuit.DFPs().Programs()); err != nil {
		log.Println("[Webservice]", err)
	}
}

type envelope map[string]interface{}

func respond(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("[Webservice] encode response:", err)
	}
}

// decode parses the request body. A false return means the 400 has
// already been written.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, envelope{"status": "error", "message": "malformed request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps circuit errors onto the API's envelope contract: missing
// entities get 404 not_found, everything else 400 error.
func fail(w http.ResponseWriter, err error) {
	if errors.Is(err, circuit.ErrNotFound) || errors.Is(err, dfp.ErrNotFound) {
		respond(w, http.StatusNotFound, envelope{"status": "not_found", "message": err.Error()})
		return
	}
	respond(w, http.StatusBadRequest, envelope{"status": "error", "message": err.Error()})
}
