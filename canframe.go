package canecho

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Identifier limits for classical CAN.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

// Frame is a classical CAN frame. The payload is a fixed 8 byte array whose
// first Len bytes are valid, mirroring the on-wire frame shape.
type Frame struct {
	ID       uint32
	Extended bool
	RTR      bool
	Len      uint8
	Data     [MaxDataLength]byte
}

// NewFrame creates a standard (11-bit) data frame and copies the data slice.
// Data longer than 8 bytes is truncated.
func NewFrame(identifier uint32, data []byte) Frame {
	var f Frame
	f.ID = identifier
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// NewExtendedFrame creates an extended (29-bit) data frame and copies the data slice.
func NewExtendedFrame(identifier uint32, data []byte) Frame {
	f := NewFrame(identifier, data)
	f.Extended = true
	return f
}

// NewRemoteFrame creates a remote transmission request with the given requested length.
func NewRemoteFrame(identifier uint32, extended bool, length uint8) Frame {
	return Frame{ID: identifier, Extended: extended, RTR: true, Len: length}
}

// Validate returns ErrInvalidFrame if the identifier is out of range for the
// frame format or the length exceeds 8.
func (f Frame) Validate() error {
	if f.Len > MaxDataLength {
		return fmt.Errorf("%w: length %d", ErrInvalidFrame, f.Len)
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: identifier 0x%X out of range", ErrInvalidFrame, f.ID)
	}
	return nil
}

// Payload returns the valid part of the data. Remote frames carry no payload.
func (f Frame) Payload() []byte {
	if f.RTR {
		return nil
	}
	n := min(int(f.Len), MaxDataLength)
	return f.Data[:n]
}

// DLC returns the data length code.
func (f Frame) DLC() int {
	return int(f.Len)
}

func (f Frame) format() string {
	switch {
	case f.Extended && f.RTR:
		return "EXT RTR"
	case f.Extended:
		return "EXT    "
	case f.RTR:
		return "STD RTR"
	default:
		return "STD    "
	}
}

func (f Frame) identifier() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.ID)
	}
	return fmt.Sprintf("0x%03X", f.ID)
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) String() string {
	var out strings.Builder
	out.WriteString(f.identifier() + " || ")
	out.WriteString(f.format() + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexView(f.Payload())))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Payload()))
	return out.String()
}

// ColorString is String with the identifier, binary view and printable view colored.
func (f Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("%s", f.identifier()) + " || ")
	out.WriteString(f.format() + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexView(f.Payload())))
	out.WriteString(" || ")

	var binView strings.Builder
	data := f.Payload()
	for i, b := range data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(data)-1 {
			binView.WriteString(" ")
		}
	}
	out.WriteString(red("%-71s", binView.String()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(data)))
	return out.String()
}

func hexView(data []byte) string {
	var out strings.Builder
	for i, b := range data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
