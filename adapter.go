package canecho

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DriverOptions selects the physical port a driver talks to.
type DriverOptions struct {
	Debug        bool
	Port         string
	PortBaudrate int
}

type DriverInfo struct {
	Name         string
	Description  string
	RequiresPort bool
	New          func(*DriverOptions) (Driver, error)
}

func (d *DriverInfo) String() string {
	return fmt.Sprintf("%s | %s, requires port: %v", d.Name, d.Description, d.RequiresPort)
}

var (
	driverMu  sync.RWMutex
	driverMap = make(map[string]*DriverInfo)
)

// RegisterDriver makes a driver available by name. Names are case insensitive.
func RegisterDriver(info *DriverInfo) error {
	key := strings.ToLower(info.Name)
	driverMu.Lock()
	defer driverMu.Unlock()
	if _, found := driverMap[key]; found {
		return fmt.Errorf("driver %s already registered", info.Name)
	}
	driverMap[key] = info
	return nil
}

// NewDriver creates the named driver.
func NewDriver(name string, opts *DriverOptions) (Driver, error) {
	driverMu.RLock()
	info, found := driverMap[strings.ToLower(name)]
	driverMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, name)
	}
	if opts == nil {
		opts = &DriverOptions{}
	}
	if info.RequiresPort && opts.Port == "" {
		return nil, fmt.Errorf("driver %s requires a port", info.Name)
	}
	return info.New(opts)
}

// ListDrivers returns the registered drivers sorted by name.
func ListDrivers() []DriverInfo {
	driverMu.RLock()
	out := make([]DriverInfo, 0, len(driverMap))
	for _, d := range driverMap {
		out = append(out, *d)
	}
	driverMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
