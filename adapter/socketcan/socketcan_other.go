//go:build !linux

package socketcan

// FindDevices returns nothing outside Linux.
func FindDevices() []string {
	return nil
}
