package webservice

import (
	"fmt"
	"net/http"
)

func (s *Server) addGenerator(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string  `json:"bus_name"`
		KW      float64 `json:"kw"`
		Phases  int     `json:"phases"`
	}{Phases: 1}
	if !decode(w, r, &payload) {
		return
	}
	name, err := s.circuit.AddGeneration(payload.BusName, payload.KW, payload.Phases)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusCreated, envelope{
		"status":         "success",
		"generator_name": name,
		"message":        fmt.Sprintf("Added %.2f kW of generation to bus '%s'.", payload.KW, payload.BusName),
	})
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName    string  `json:"bus_name"`
		DeviceName string  `json:"device_name"`
		KW         float64 `json:"kw"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.AddDevice(payload.BusName, payload.DeviceName, payload.KW); err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusCreated, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Added device '%s' to bus '%s'.", payload.DeviceName, payload.BusName),
	})
}

func (s *Server) subscribeDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string `json:"bus_name"`
		DFPName string `json:"dfp_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.SubscribeDFP(payload.BusName, payload.DFPName); err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("SUBSCRIBED: Bus '%s' to DFP '%s'.", payload.BusName, payload.DFPName)
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Subscribed bus '%s' to DFP '%s'.", payload.BusName, payload.DFPName),
	})
}

func (s *Server) unsubscribeDFP(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName string `json:"bus_name"`
		DFPName string `json:"dfp_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.UnsubscribeDFP(payload.BusName, payload.DFPName); err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("UNSUBSCRIBED: Bus '%s' from DFP '%s'.", payload.BusName, payload.DFPName)
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Unsubscribed bus '%s' from DFP '%s'.", payload.BusName, payload.DFPName),
	})
}

func (s *Server) modifyDevicesInNode(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName          string  `json:"bus_name"`
		PowerThresholdKW float64 `json:"power_threshold_kw"`
		ReductionFactor  float64 `json:"reduction_factor"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	changed, err := s.circuit.ModifyHighWattageDevices(payload.BusName, payload.PowerThresholdKW, payload.ReductionFactor)
	if err != nil {
		fail(w, err)
		return
	}
	s.logDFPActivity("DEVICE_MODIFICATION: on node '%s' (%d device(s)).", payload.BusName, len(changed))
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{"status": "success", "modified_devices": changed})
}

func (s *Server) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName    string `json:"bus_name"`
		DeviceName string `json:"device_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	if err := s.circuit.DisconnectDevice(payload.BusName, payload.DeviceName); err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Disconnected device '%s' from bus '%s'.", payload.DeviceName, payload.BusName),
	})
}

func (s *Server) addStorageDevice(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BusName        string  `json:"bus_name"`
		DeviceName     string  `json:"device_name"`
		MaxCapacityKWh float64 `json:"max_capacity_kwh"`
		ChargeRateKW   float64 `json:"charge_rate_kw"`
		DischargeKW    float64 `json:"discharge_rate_kw"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	err := s.circuit.AddStorage(payload.BusName, payload.DeviceName,
		payload.MaxCapacityKWh, payload.ChargeRateKW, payload.DischargeKW)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusCreated, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Added storage device '%s' to bus '%s'.", payload.DeviceName, payload.BusName),
	})
}

func (s *Server) toggleStorageDevice(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		DeviceName string `json:"device_name"`
		Action     string `json:"action"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	sd, err := s.circuit.ToggleStorage(payload.DeviceName, payload.Action)
	if err != nil {
		fail(w, err)
		return
	}
	s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{"status": "success", "device": sd})
}
