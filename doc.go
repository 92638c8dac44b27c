// Package canecho holds the bus level types shared by the echo node and its
// drivers: frames, alert bitmasks, bus state and status snapshots, timing and
// acceptance filter configuration, and the Driver boundary with its registry.
//
// Drivers live under adapter/ and register themselves on import:
//
//	import _ "github.com/roffe/canecho/adapter/virtual"
//
//	drv, err := canecho.NewDriver("virtual", nil)
package canecho
