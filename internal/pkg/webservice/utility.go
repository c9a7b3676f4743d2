package webservice

import (
	"fmt"
	"net/http"
)

func (s *Server) getNodeData(w http.ResponseWriter, r *http.Request) {
	details := s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{"status": "success", "results": details})
}

func (s *Server) getNodeDetails(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string `json:"bus_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	detail, err := s.circuit.SingleBusDetails(payload.BusName)
	if err != nil {
		respond(w, http.StatusNotFound, envelope{
			"status":  "not_found",
			"message": fmt.Sprintf("Node '%s' not found.", payload.BusName),
		})
		return
	}
	respond(w, http.StatusOK, envelope{"status": "success", "results": detail})
}

func (s *Server) modifyLoadNeighbourhood(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Neighbourhood int     `json:"neighbourhood"`
		Factor        float64 `json:"factor"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	changed, err := s.circuit.ModifyNeighborhoodLoads(payload.Neighbourhood, payload.Factor)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Modified %d load(s) in neighbourhood %d.", changed, payload.Neighbourhood),
	})
}

func (s *Server) modifyLoadNode(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string  `json:"bus_name"`
		Factor  float64 `json:"factor"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	changed, err := s.circuit.ModifyBusLoads(payload.BusName, payload.Factor)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Modified %d load(s) on node '%s'.", changed, payload.BusName),
	})
}

func (s *Server) registerDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		MinPowerKW  float64 `json:"min_power_kw"`
		TargetPF    float64 `json:"target_pf"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	program, err := s.circuit.DFPs().Register(payload.Name, payload.Description, payload.MinPowerKW, payload.TargetPF)
	if err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("CREATED: DFP '%s'.", payload.Name)
	respond(w, http.StatusCreated, envelope{"status": "success", "dfp_details": program})
}

func (s *Server) updateDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		MinPowerKW  float64 `json:"min_power_kw"`
		TargetPF    float64 `json:"target_pf"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	program, err := s.circuit.DFPs().Update(payload.Name, payload.MinPowerKW, payload.TargetPF, payload.Description)
	if err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("MODIFIED: DFP '%s'.", payload.Name)
	respond(w, http.StatusOK, envelope{"status": "success", "dfp_details": program})
}

func (s *Server) executeDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		DFPName string `json:"dfp_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	participations, err := s.circuit.ExecuteDFP(payload.DFPName)
	if err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("EXECUTION: DFP '%s' curtailed %d bus(es).", payload.DFPName, len(participations))
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{"status": "success", "participants": participations})
}

func (s *Server) deleteDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Name string `json:"name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.DFPs().Delete(payload.Name); err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("DELETED: DFP '%s'.", payload.Name)
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Deleted DFP '%s'.", payload.Name),
	})
}

func (s *Server) addNode(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName        string     `json:"bus_name"`
		NeighborhoodID int        `json:"neighborhood_id"`
		Coordinates    [2]float64 `json:"coordinates"`
		Connections    []string   `json:"connections"`
		LoadKW         float64    `json:"load_kw"`
		LoadKVAR       float64    `json:"load_kvar"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	err := s.circuit.AddNode(payload.BusName, payload.NeighborhoodID, payload.Coordinates,
		payload.Connections, payload.LoadKW, payload.LoadKVAR)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusCreated, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Added node '%s'.", payload.BusName),
	})
}

func (s *Server) modifyNode(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName  string   `json:"bus_name"`
		LoadKW   *float64 `json:"load_kw"`
		LoadKVAR *float64 `json:"load_kvar"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	changed, err := s.circuit.ModifyNode(payload.BusName, payload.LoadKW, payload.LoadKVAR)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Modified %d load(s) on node '%s'.", changed, payload.BusName),
	})
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string `json:"bus_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.DeleteNode(payload.BusName); err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Deleted node '%s'.", payload.BusName),
	})
}

func (s *Server) getDFPDetails(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, envelope{"status": "success", "dfps": s.circuit.DFPs().Programs()})
}

func (s *Server) sendDFPToNeighbourhood(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Neighbourhood int    `json:"neighbourhood"`
		DFPName       string `json:"dfp_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	enrolled, err := s.circuit.SendDFPToNeighborhood(payload.Neighbourhood, payload.DFPName)
	if err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("BROADCAST: DFP '%s' to neighbourhood %d (%d buses).",
		payload.DFPName, payload.Neighbourhood, len(enrolled))
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{"status": "success", "subscribed_buses": enrolled})
}
