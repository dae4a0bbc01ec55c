package whitelist

import "github.com/srg/vitalink/pkg/parser"

// Built-in model ids.
const (
	DummyID = "dummy-001"
	ECGID   = "ecg-001"
	PPGID   = "ppg-001"
)

var builtin = []Entry{
	{
		ID:                  DummyID,
		Name:                "VitalLink Dummy",
		DesiredMTU:          185,
		DefaultPacketLength: 12,
		ParserID:            parser.DummyV1ID,
	},
	{
		ID:                  ECGID,
		Name:                "VitalLink ECG",
		DesiredMTU:          185,
		DefaultPacketLength: 6,
		ParserID:            parser.WaveECGID,
	},
	{
		ID:                  PPGID,
		Name:                "VitalLink PPG",
		DesiredMTU:          185,
		DefaultPacketLength: 6,
		ParserID:            parser.WavePPGID,
	},
}

// Default returns the built-in table.
func Default() *Table {
	return New(builtin...)
}
