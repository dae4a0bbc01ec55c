package simulated

import (
	"math"

	"github.com/srg/vitalink/pkg/parser"
)

// Waveform generator constants.
const (
	ecgRate       = 250.0
	ecgHeartHz    = 1.2
	ecgSpikeEvery = 50
	ecgSpike      = 950

	ppgRate  = 100.0
	ppgPulse = 1.3

	maxADC = 1023
)

func clampADC(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > maxADC:
		return maxADC
	default:
		return uint16(v)
	}
}

// ECGSample returns the seq-th ECG-like sample: a slow baseline sine with a
// QRS spike every 50 samples, in 10-bit ADC units.
func ECGSample(seq int) uint16 {
	if seq%ecgSpikeEvery == 0 {
		return ecgSpike
	}
	t := float64(seq) / ecgRate
	return clampADC(int(math.Sin(2*math.Pi*ecgHeartHz*t)*50 + 500))
}

// PPGSample returns the seq-th PPG-like sample: a smooth pulsatile wave.
func PPGSample(seq int) uint16 {
	t := float64(seq) / ppgRate
	return clampADC(int(math.Sin(2*math.Pi*ppgPulse*t)*150 + 600))
}

// DummyValue is the structured-packet payload value for seq.
func DummyValue(seq uint8) uint16 {
	return uint16(int(math.Sin(float64(seq)/10)*100 + 500))
}

// Generator produces the n-th packet of a stream.
type Generator func(n int, tsMillis uint32) []byte

func ecgGenerator(n int, _ uint32) []byte { return parser.EncodeWaveform(ECGSample(n)) }

func ppgGenerator(n int, _ uint32) []byte { return parser.EncodeWaveform(PPGSample(n)) }

func dummyGenerator(n int, ts uint32) []byte {
	seq := uint8(n)
	return parser.EncodeDummyV1(seq, ts, DummyValue(seq))
}
