package meter

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu       sync.Mutex
	readings []Reading
}

func (c *collectSink) Publish(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

func (c *collectSink) all() []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reading(nil), c.readings...)
}

func TestRegistryIntegratesEnergy(t *testing.T) {
	reg := NewRegistry(2, nil)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	reg.Publish(Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300, At: start})
	reg.Begin(1, start)

	s, ok := reg.Integrate(1, start.Add(30*time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 1150, s.EnergyWh, 1e-9)

	// negative power is ignored, energy never decreases
	reg.Publish(Reading{ConnectorID: 1, Power: -500, At: start.Add(30 * time.Minute)})
	s, _ = reg.Integrate(1, start.Add(time.Hour))
	assert.InDelta(t, 1150, s.EnergyWh, 1e-9)

	reg.Publish(Reading{ConnectorID: 1, Power: 1000, At: start.Add(time.Hour)})
	s, _ = reg.Integrate(1, start.Add(90*time.Minute))
	assert.InDelta(t, 1650, s.EnergyWh, 1e-9)

	// a clock going backwards adds nothing
	s, _ = reg.Integrate(1, start)
	assert.InDelta(t, 1650, s.EnergyWh, 1e-9)

	_, ok = reg.Integrate(9, start)
	assert.False(t, ok)
}

func TestRegistryEnergySumsPowerIntervals(t *testing.T) {
	reg := NewRegistry(1, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.Begin(1, now)

	powers := []float64{1000, 2000, 0, 3000, 500}
	var want float64
	prev := 0.0
	for _, p := range powers {
		reg.Publish(Reading{ConnectorID: 1, Power: p, At: now})
		now = now.Add(15 * time.Minute)
		s, _ := reg.Integrate(1, now)
		want += p * 0.25
		assert.GreaterOrEqual(t, s.EnergyWh, prev)
		prev = s.EnergyWh
	}
	assert.InDelta(t, want, prev, 1e-9)
}

func TestRegistryKeepsMeterRegister(t *testing.T) {
	reg := NewRegistry(1, nil)
	now := time.Now()
	reg.Begin(1, now)

	reg.Publish(Reading{ConnectorID: 1, Power: 5000, EnergyWh: 1200, HasEnergy: true})
	s, _ := reg.Integrate(1, now.Add(time.Hour))
	assert.Equal(t, 1200.0, s.EnergyWh)

	reg.Publish(Reading{ConnectorID: 1, EnergyWh: 900, HasEnergy: true})
	s, _ = reg.Latest(1)
	assert.Equal(t, 1200.0, s.EnergyWh)

	reg.Restore(1, 1500)
	s, _ = reg.Latest(1)
	assert.Equal(t, 1500.0, s.EnergyWh)
}

func TestParseLine(t *testing.T) {
	at := time.Now()
	readings := ParseLine("M1,230.5,12.0,2766.0,M2,229.0,0.2,45.8,M3,x,1,1,M4,1,2\r\n", at)
	require.Len(t, readings, 2)

	assert.Equal(t, Reading{ConnectorID: 1, Voltage: 230.5, Current: 12, Power: 2766, At: at}, readings[0])
	assert.Equal(t, 2, readings[1].ConnectorID)
	assert.Equal(t, 229.0, readings[1].Voltage)
	assert.Zero(t, readings[1].Current)
	assert.Zero(t, readings[1].Power)

	assert.Empty(t, ParseLine("boot ok", at))
	assert.Empty(t, ParseLine("", at))
}

func TestReadLinesPublishesUntilEOF(t *testing.T) {
	sink := &collectSink{}
	input := bytes.NewBufferString("M1,230,10,2300\ngarbage\nM1,231,11,2541,M2,230,0,0\n")

	err := readLines(context.Background(), input, sink, orNop(nil))
	require.Error(t, err)
	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, 231.0, got[1].Voltage)
	assert.Equal(t, 2, got[2].ConnectorID)
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func hlwFrame(state byte, vPar, vData, cPar, cData, pPar, pData uint32, update byte) []byte {
	f := make([]byte, hlwFrameSize)
	f[0] = state
	f[1] = hlwCheck
	put24(f[2:], vPar)
	put24(f[5:], vData)
	put24(f[8:], cPar)
	put24(f[11:], cData)
	put24(f[14:], pPar)
	put24(f[17:], pData)
	f[20] = update
	var sum byte
	for _, b := range f[2:23] {
		sum += b
	}
	f[23] = sum
	return f
}

func TestHLW8032Decode(t *testing.T) {
	dec := &HLW8032Decoder{ConnectorID: 2}
	frame := hlwFrame(hlwStateNormal, 1000000, 8000, 16000, 1000, 376000, 100, 0x70)

	r, err := dec.Decode(frame, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.ConnectorID)
	assert.InDelta(t, 235.0, r.Voltage, 1e-6)
	assert.InDelta(t, 16.0, r.Current, 1e-6)
	assert.InDelta(t, 7068.8, r.Power, 1e-6)

	// without update bits the previous data registers are reused
	r, err = dec.Decode(hlwFrame(hlwStateNormal, 1000000, 0, 8000, 0, 188000, 0, 0), time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 235.0, r.Voltage, 1e-6)
	assert.InDelta(t, 8.0, r.Current, 1e-6)

	// current and power overflow means no load
	r, err = dec.Decode(hlwFrame(0xF6, 1000000, 8000, 16000, 1000, 376000, 100, 0x70), time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 235.0, r.Voltage, 1e-6)
	assert.Zero(t, r.Current)
	assert.Zero(t, r.Power)

	_, err = dec.Decode(hlwFrame(hlwStateFault, 1, 1, 1, 1, 1, 1, 0), time.Time{})
	assert.ErrorIs(t, err, ErrChipFault)

	bad := hlwFrame(hlwStateNormal, 1, 1, 1, 1, 1, 1, 0)
	bad[23]++
	_, err = dec.Decode(bad, time.Time{})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestScanHLW8032Resyncs(t *testing.T) {
	good := hlwFrame(hlwStateNormal, 1000000, 8000, 16000, 1000, 376000, 100, 0x70)
	stream := append([]byte{0x01, 0x5A, 0xFF}, good...)
	stream = append(stream, good[:10]...)

	var frames int
	rest := scanHLW8032(stream, func(f []byte) {
		frames++
		assert.Equal(t, good, f)
	})
	assert.Equal(t, 1, frames)
	assert.Equal(t, good[:10], rest)

	rest = scanHLW8032(append(rest, good[10:]...), func([]byte) { frames++ })
	assert.Equal(t, 2, frames)
	assert.Empty(t, rest)
}

func TestDecodePZEM(t *testing.T) {
	regs := []uint16{
		2301,        // 230.1 V
		0x4E20, 0,   // 20.000 A
		0x9F3C, 0,   // 4076.4 W
		0x2345, 0x1, // 74565 Wh
		500,         // 50.0 Hz
		98,          // 0.98
		0,
	}
	b := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(b[2*i:], r)
	}

	v, err := DecodePZEM(b)
	require.NoError(t, err)
	assert.InDelta(t, 230.1, v.Voltage, 1e-9)
	assert.InDelta(t, 20.0, v.Current, 1e-9)
	assert.InDelta(t, 4076.4, v.Power, 1e-9)
	assert.Equal(t, 74565.0, v.EnergyWh)
	assert.InDelta(t, 50.0, v.Frequency, 1e-9)
	assert.InDelta(t, 0.98, v.PowerFactor, 1e-9)

	_, err = DecodePZEM(b[:6])
	assert.Error(t, err)
}

func TestParseMQTTReading(t *testing.T) {
	at := time.Now()
	r, err := ParseMQTTReading(DefaultMQTTTopic, "chargepoint/meter/2", []byte(`{"voltage":230,"current":10}`), at)
	require.NoError(t, err)
	assert.Equal(t, Reading{ConnectorID: 2, Voltage: 230, Current: 10, Power: 2300, At: at}, r)

	r, err = ParseMQTTReading(DefaultMQTTTopic, "chargepoint/meter/1", []byte(`{"voltage":230,"current":10,"power":2000,"energy_wh":5}`), at)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, r.Power)
	assert.True(t, r.HasEnergy)

	_, err = ParseMQTTReading(DefaultMQTTTopic, "chargepoint/meter/x", []byte(`{}`), at)
	assert.Error(t, err)
	_, err = ParseMQTTReading(DefaultMQTTTopic, "chargepoint/meter/1", []byte(`nope`), at)
	assert.Error(t, err)
}

func TestSimulatorPublishesEveryConnector(t *testing.T) {
	sim := NewSimulator(2)
	sim.Interval = 10 * time.Millisecond
	sink := &collectSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return len(sink.all()) >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	first := sink.all()[0]
	assert.Equal(t, 1, first.ConnectorID)
	assert.Equal(t, 220.0*16.0, first.Power)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(Config{}, 2, nil)
	require.NoError(t, err)
	assert.IsType(t, &Simulator{}, src)

	src, err = NewSource(Config{Kind: KindPZEM}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, map[int]uint8{1: 1, 2: 2}, src.(*PZEMSource).Addresses)

	src, err = NewSource(Config{Kind: KindHLW8032, Ports: map[int]SerialConfig{2: {Address: "/dev/b"}, 1: {Address: "/dev/a"}}}, 2, nil)
	require.NoError(t, err)
	multi := src.(Multi)
	require.Len(t, multi, 2)
	assert.Equal(t, 1, multi[0].(*HLW8032Source).ConnectorID)

	_, err = NewSource(Config{Kind: KindMBus}, 2, nil)
	assert.Error(t, err)
	_, err = NewSource(Config{Kind: "laser"}, 2, nil)
	assert.Error(t, err)
}
