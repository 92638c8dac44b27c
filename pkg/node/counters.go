package node

import "fmt"

// Counters are the node's monotonically increasing tallies. They are owned by
// the loop goroutine and never reset while the node runs.
type Counters struct {
	Received     uint32
	Transmitted  uint32
	Acknowledged uint32
	TxFailed     uint32
	BusErrors    uint32
	BusOff       uint32
}

func (c Counters) String() string {
	return fmt.Sprintf("rx=%d tx=%d ack=%d txFail=%d busErr=%d busOff=%d",
		c.Received, c.Transmitted, c.Acknowledged, c.TxFailed, c.BusErrors, c.BusOff)
}
