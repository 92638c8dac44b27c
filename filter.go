package canecho

// FilterConfig is an acceptance filter. Mask bits set to 1 are "don't care".
// In single filter mode the code and mask are compared against the
// identifier left aligned in 32 bits, as the controller does it.
type FilterConfig struct {
	AcceptanceCode uint32
	AcceptanceMask uint32
	SingleFilter   bool
}

// FilterAcceptAll accepts every frame.
func FilterAcceptAll() FilterConfig {
	return FilterConfig{AcceptanceCode: 0, AcceptanceMask: 0xFFFFFFFF, SingleFilter: true}
}

// FilterExact accepts only the given identifier.
func FilterExact(id uint32, extended bool) FilterConfig {
	code := id << 21
	mask := uint32(0x001FFFFF)
	if extended {
		code = id << 3
		mask = 0x00000007
	}
	return FilterConfig{AcceptanceCode: code, AcceptanceMask: mask, SingleFilter: true}
}

// Match reports whether the filter accepts f. Dual filter mode is treated as
// accept-all for identifier matching purposes; hardware drivers apply it natively.
func (fc FilterConfig) Match(f Frame) bool {
	if !fc.SingleFilter || fc.AcceptanceMask == 0xFFFFFFFF {
		return true
	}
	var aligned uint32
	if f.Extended {
		aligned = f.ID << 3
	} else {
		aligned = f.ID << 21
	}
	if f.RTR {
		if f.Extended {
			aligned |= 1 << 2
		} else {
			aligned |= 1 << 20
		}
	}
	return (aligned^fc.AcceptanceCode)&^fc.AcceptanceMask == 0
}
