// Package telemetry overlays measured meter readings onto simulated bus
// loads. A modbus-TCP poller reads configured kW registers on a fixed
// poll rate and writes each reading through as the bus load target, so a
// feeder model can track real hardware.
package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io/ioutil"
	"log"
	"math"
	"os"
	"time"

	"github.com/goburrow/modbus"
)

// MeterComm is the read surface a Service polls. Satisfied by Poller.
type MeterComm interface {
	Read([]Register) (map[string]float64, error)
}

// LoadSetter receives measured bus load targets. Satisfied by the
// circuit service.
type LoadSetter interface {
	ModifyNode(name string, loadKW, loadKVAR *float64) (int, error)
}

// DataType defines the modbus register width for encoding/decoding.
type DataType string

const (
	U16 DataType = "u16"
	U32 DataType = "u32"
	U64 DataType = "u64"
	I16 DataType = "i16"
	I32 DataType = "i32"
	I64 DataType = "i64"
	F32 DataType = "f32"
	F64 DataType = "f64"
)

// Endian is the byte order of a register.
type Endian string

const (
	BigEndian    Endian = "big"
	LittleEndian Endian = "little"
)

// Register maps one meter register to a simulated bus. Scale converts
// the raw reading into kW (e.g. 0.001 for a register in watts).
type Register struct {
	Bus        string   `json:"Bus"`
	Address    uint16   `json:"Address"`
	DataType   DataType `json:"DataType"`
	Endianness Endian   `json:"Endianness"`
	Scale      float64  `json:"Scale"`
}

// Config is the JSON configuration for a Service.
type Config struct {
	IPAddr       string     `json:"IPAddr"`
	Port         string     `json:"Port"`
	SlaveID      byte       `json:"SlaveID"`
	Timeout      int        `json:"Timeout"`
	PollRate     int        `json:"PollRate"`
	EnableLogger bool       `json:"EnableLogger"`
	Registers    []Register `json:"Registers"`
}

// Poller reads holding registers from a modbus-TCP target.
type Poller struct {
	handler *modbus.TCPClientHandler
}

func NewPoller(cfg Config) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger {
		handler.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}

	return Poller{handler: handler}
}

func (p Poller) Read(registers []Register) (map[string]float64, error) {
	err := p.handler.Connect()
	if err != nil {
		return nil, err
	}
	defer p.handler.Close()

	client := modbus.NewClient(p.handler)
	readValues := make(map[string]float64)
	for _, register := range registers {
		resp, readErr := client.ReadHoldingRegisters(register.Address, sizeOf(register.DataType))
		if readErr != nil {
			err = readErr
			continue
		}
		readValues[register.Bus] = decode(resp, register)
	}
	return readValues, err
}

// Service drives a MeterComm on a poll ticker and applies the readings.
type Service struct {
	comm     MeterComm
	loads    LoadSetter
	config   Config
	pollRate time.Duration
	stop     chan bool
}

func New(configPath string, loads LoadSetter) (*Service, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Registers) == 0 {
		return nil, errors.New("telemetry config has no registers")
	}
	if cfg.PollRate <= 0 {
		cfg.PollRate = 1000
	}

	return NewService(NewPoller(cfg), loads, cfg), nil
}

func NewService(comm MeterComm, loads LoadSetter, cfg Config) *Service {
	return &Service{
		comm:     comm,
		loads:    loads,
		config:   cfg,
		pollRate: time.Millisecond * time.Duration(cfg.PollRate),
		stop:     make(chan bool),
	}
}

func (s *Service) Stop() {
	s.stop <- true
}

func (s *Service) Process() {
	log.Println("[Telemetry] Process Started")
	ticker := time.NewTicker(s.pollRate)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			s.pollOnce()
		case <-s.stop:
			break loop
		}
	}
	log.Println("[Telemetry] Process Shutdown")
}

func (s *Service) pollOnce() {
	readings, err := s.comm.Read(s.config.Registers)
	if err != nil {
		log.Printf("[Telemetry] read: %v", err)
	}
	for _, register := range s.config.Registers {
		raw, ok := readings[register.Bus]
		if !ok {
			continue
		}
		scale := register.Scale
		if scale == 0 {
			scale = 1
		}
		kw := raw * scale
		if _, err := s.loads.ModifyNode(register.Bus, &kw, nil); err != nil {
			log.Printf("[Telemetry] overlay %v: %v", register.Bus, err)
		}
	}
}

// decode converts a holding-register response into a float64.
func decode(bytes []byte, register Register) float64 {
	var n float64
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case U16:
		n = float64(endian.Uint16(bytes))
	case I16:
		n = float64(int16(endian.Uint16(bytes)))
	case U32:
		n = float64(endian.Uint32(bytes))
	case I32:
		n = float64(int32(endian.Uint32(bytes)))
	case F32:
		bits := endian.Uint32(bytes)
		n = float64(math.Float32frombits(bits))
	case U64:
		n = float64(endian.Uint64(bytes))
	case I64:
		n = float64(int64(endian.Uint64(bytes)))
	case F64:
		bits := endian.Uint64(bytes)
		n = math.Float64frombits(bits)
	}
	return n
}

// encode converts a float64 into a register byte array.
func encode(val float64, register Register) []byte {
	var bytes []byte
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case U16, I16:
		bytes = make([]byte, 2*sizeOf(U16))
		endian.PutUint16(bytes, uint16(val))
	case U32, I32:
		bytes = make([]byte, 2*sizeOf(U32))
		endian.PutUint32(bytes, uint32(val))
	case F32:
		bytes = make([]byte, 2*sizeOf(F32))
		endian.PutUint32(bytes, math.Float32bits(float32(val)))
	case U64, I64:
		bytes = make([]byte, 2*sizeOf(U64))
		endian.PutUint64(bytes, uint64(val))
	case F64:
		bytes = make([]byte, 2*sizeOf(F64))
		endian.PutUint64(bytes, math.Float64bits(val))
	}
	return bytes
}

func getByteOrder(e Endian) binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype.
func sizeOf(t DataType) uint16 {
	switch t {
	case U16, I16:
		return 1
	case U32, I32, F32:
		return 2
	case U64, I64, F64:
		return 4
	}
	return 0
}
