package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/roffe/canecho"
)

const (
	cr   = '\r'
	bell = 0x07
)

var errShortMessage = errors.New("short message")

// bitrateCommands maps kbit/s to the Lawicel setup command.
var bitrateCommands = map[uint32]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

func bitrateCommand(bitrate uint32) (string, error) {
	cmd, ok := bitrateCommands[bitrate/1000]
	if !ok || bitrate%1000 != 0 {
		return "", fmt.Errorf("bitrate %d not supported by slcan", bitrate)
	}
	return cmd, nil
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// encodeFrame appends the Lawicel representation of f, CR terminated, to buf.
//
//	t iii L dd..  standard data
//	T iiiiiiii L dd..  extended data
//	r iii L  standard remote
//	R iiiiiiii L  extended remote
func encodeFrame(buf []byte, f canecho.Frame) []byte {
	digits := 3
	var cmd byte
	switch {
	case f.Extended && f.RTR:
		cmd, digits = 'R', 8
	case f.Extended:
		cmd, digits = 'T', 8
	case f.RTR:
		cmd = 'r'
	default:
		cmd = 't'
	}
	buf = append(buf, cmd)
	for i := digits - 1; i >= 0; i-- {
		buf = append(buf, nybbleToHex(byte(f.ID>>(4*i))&0xF))
	}
	buf = append(buf, nybbleToHex(f.Len&0xF))
	if !f.RTR {
		for _, b := range f.Payload() {
			buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
		}
	}
	return append(buf, cr)
}

// decodeFrame parses a t/T/r/R message without its CR. A trailing timestamp is ignored.
func decodeFrame(msg []byte) (canecho.Frame, error) {
	var f canecho.Frame
	if len(msg) == 0 {
		return f, errShortMessage
	}
	digits := 3
	switch msg[0] {
	case 't':
	case 'T':
		digits, f.Extended = 8, true
	case 'r':
		f.RTR = true
	case 'R':
		digits, f.Extended, f.RTR = 8, true, true
	default:
		return f, fmt.Errorf("not a frame: %q", msg)
	}
	if len(msg) < 2+digits {
		return f, errShortMessage
	}
	id, err := strconv.ParseUint(string(msg[1:1+digits]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("failed to decode identifier: %v", err)
	}
	f.ID = uint32(id)
	dlc, err := strconv.ParseUint(string(msg[1+digits:2+digits]), 16, 8)
	if err != nil {
		return f, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dlc > canecho.MaxDataLength {
		return f, fmt.Errorf("invalid data length: %d", dlc)
	}
	f.Len = uint8(dlc)
	if !f.RTR {
		body := msg[2+digits:]
		if len(body) < int(dlc)*2 {
			return f, errShortMessage
		}
		if _, err := hex.Decode(f.Data[:dlc], body[:dlc*2]); err != nil {
			return f, fmt.Errorf("failed to decode frame body: %v", err)
		}
	}
	return f, f.Validate()
}

// Status flag bits of the F command reply.
const (
	flagRxFIFOFull   = 1 << 0
	flagTxFIFOFull   = 1 << 1
	flagErrorWarning = 1 << 2
	flagDataOverrun  = 1 << 3
	flagErrorPassive = 1 << 5
	flagArbLost      = 1 << 6
	flagBusError     = 1 << 7
)

// decodeStatus parses an "Fxx" reply into alerts.
func decodeStatus(msg []byte) (uint8, canecho.Alert, error) {
	if len(msg) < 3 || msg[0] != 'F' {
		return 0, canecho.AlertNone, fmt.Errorf("not a status reply: %q", msg)
	}
	var b [1]byte
	if _, err := hex.Decode(b[:], msg[1:3]); err != nil {
		return 0, canecho.AlertNone, fmt.Errorf("failed to decode status: %v", err)
	}
	flags := b[0]
	var a canecho.Alert
	if flags&flagRxFIFOFull != 0 {
		a |= canecho.AlertRxQueueFull
	}
	if flags&flagErrorWarning != 0 {
		a |= canecho.AlertAboveErrWarn
	}
	if flags&flagDataOverrun != 0 {
		a |= canecho.AlertRxFIFOOverrun
	}
	if flags&flagErrorPassive != 0 {
		a |= canecho.AlertErrPass
	}
	if flags&flagArbLost != 0 {
		a |= canecho.AlertArbLost
	}
	if flags&flagBusError != 0 {
		a |= canecho.AlertBusError
	}
	return flags, a, nil
}
