package telemetry

import (
	"testing"

	"gotest.tools/v3/assert"
)

type fakeComm struct {
	readings map[string]float64
}

func (f fakeComm) Read(_ []Register) (map[string]float64, error) {
	return f.readings, nil
}

type recordingLoads struct {
	lastBus string
	lastKW  float64
	calls   int
}

func (r *recordingLoads) ModifyNode(name string, loadKW, loadKVAR *float64) (int, error) {
	r.lastBus = name
	if loadKW != nil {
		r.lastKW = *loadKW
	}
	r.calls++
	return 1, nil
}

func TestEncodeDecodeF32Big(t *testing.T) {
	reg := Register{Bus: "b2", DataType: F32, Endianness: BigEndian}
	bytes := encode(412.5, reg)

	assert.Equal(t, len(bytes), 4)
	assert.Equal(t, decode(bytes, reg), 412.5)
}

func TestEncodeDecodeU16Little(t *testing.T) {
	reg := Register{Bus: "b2", DataType: U16, Endianness: LittleEndian}
	bytes := encode(1234, reg)

	assert.Equal(t, bytes[0], byte(210))
	assert.Equal(t, bytes[1], byte(4))
	assert.Equal(t, decode(bytes, reg), float64(1234))
}

func TestDecodeI32Negative(t *testing.T) {
	reg := Register{Bus: "b2", DataType: I32, Endianness: BigEndian}
	bytes := encode(-1234, reg)

	assert.Equal(t, decode(bytes, reg), float64(-1234))
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, sizeOf(U16), uint16(1))
	assert.Equal(t, sizeOf(F32), uint16(2))
	assert.Equal(t, sizeOf(F64), uint16(4))
	assert.Equal(t, sizeOf(DataType("bogus")), uint16(0))
}

func TestGetConfig(t *testing.T) {
	loads := &recordingLoads{}
	s, err := New("./telemetry_config_test.json", loads)
	assert.NilError(t, err)

	assert.Equal(t, s.config.IPAddr, "127.0.0.1")
	assert.Equal(t, s.config.Port, "502")
	assert.Equal(t, s.config.PollRate, 1000)
	assert.Equal(t, len(s.config.Registers), 1)
	assert.Equal(t, s.config.Registers[0].Bus, "b2")
}

func TestPollOnceAppliesScaledReading(t *testing.T) {
	cfg := Config{
		PollRate: 1000,
		Registers: []Register{
			{Bus: "b2", Address: 100, DataType: F32, Scale: 0.001},
		},
	}
	loads := &recordingLoads{}
	s := NewService(fakeComm{readings: map[string]float64{"b2": 215000}}, loads, cfg)

	s.pollOnce()

	assert.Equal(t, loads.calls, 1)
	assert.Equal(t, loads.lastBus, "b2")
	assert.Equal(t, loads.lastKW, 215.0)
}

func TestPollOnceSkipsMissingReading(t *testing.T) {
	cfg := Config{
		PollRate: 1000,
		Registers: []Register{
			{Bus: "b2", Address: 100, DataType: F32},
			{Bus: "b3", Address: 102, DataType: F32},
		},
	}
	loads := &recordingLoads{}
	s := NewService(fakeComm{readings: map[string]float64{"b3": 400}}, loads, cfg)

	s.pollOnce()

	assert.Equal(t, loads.calls, 1)
	assert.Equal(t, loads.lastBus, "b3")
	assert.Equal(t, loads.lastKW, 400.0)
}
