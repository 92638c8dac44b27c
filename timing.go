package canecho

import "fmt"

// ControllerClock is the source clock of the TWAI controller the timing presets are computed for.
const ControllerClock = 80_000_000

// TimingConfig holds bit timing parameters. The resulting bitrate must match
// every other participant on the bus; a mismatch shows up as framing errors,
// not as a configuration fault.
type TimingConfig struct {
	BRP            uint32
	TSeg1          uint8
	TSeg2          uint8
	SJW            uint8
	TripleSampling bool
}

var timingPresets = map[int]TimingConfig{
	25:   {BRP: 128, TSeg1: 16, TSeg2: 8, SJW: 3},
	50:   {BRP: 80, TSeg1: 15, TSeg2: 4, SJW: 3},
	100:  {BRP: 40, TSeg1: 15, TSeg2: 4, SJW: 3},
	125:  {BRP: 32, TSeg1: 15, TSeg2: 4, SJW: 3},
	250:  {BRP: 16, TSeg1: 15, TSeg2: 4, SJW: 3},
	500:  {BRP: 8, TSeg1: 15, TSeg2: 4, SJW: 3},
	800:  {BRP: 4, TSeg1: 16, TSeg2: 8, SJW: 3},
	1000: {BRP: 4, TSeg1: 15, TSeg2: 4, SJW: 3},
}

// TimingFor returns the preset for a bitrate given in kbit/s.
func TimingFor(kbit int) (TimingConfig, error) {
	t, ok := timingPresets[kbit]
	if !ok {
		return TimingConfig{}, fmt.Errorf("no timing preset for %d kbit/s", kbit)
	}
	return t, nil
}

// Timing250K is the default bus timing.
func Timing250K() TimingConfig {
	return timingPresets[250]
}

// Bitrate returns the bitrate in bit/s produced by t on ControllerClock.
func (t TimingConfig) Bitrate() uint32 {
	quanta := 1 + uint32(t.TSeg1) + uint32(t.TSeg2)
	if t.BRP == 0 {
		return 0
	}
	return ControllerClock / t.BRP / quanta
}

// Validate checks the parameters are inside the controller limits.
func (t TimingConfig) Validate() error {
	switch {
	case t.BRP < 2 || t.BRP > 16384 || t.BRP%2 != 0:
		return fmt.Errorf("invalid brp %d", t.BRP)
	case t.TSeg1 < 1 || t.TSeg1 > 16:
		return fmt.Errorf("invalid tseg1 %d", t.TSeg1)
	case t.TSeg2 < 1 || t.TSeg2 > 8:
		return fmt.Errorf("invalid tseg2 %d", t.TSeg2)
	case t.SJW < 1 || t.SJW > 4:
		return fmt.Errorf("invalid sjw %d", t.SJW)
	}
	return nil
}

func (t TimingConfig) String() string {
	return fmt.Sprintf("%dk (brp=%d tseg1=%d tseg2=%d sjw=%d)", t.Bitrate()/1000, t.BRP, t.TSeg1, t.TSeg2, t.SJW)
}
