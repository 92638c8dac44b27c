package canecho

import "fmt"

// BusState is the controller state as reported by the driver.
type BusState int

const (
	StateStopped BusState = iota
	StateRunning
	StateBusOff
	StateRecovering
)

func (s BusState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateBusOff:
		return "BUS_OFF"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// StatusInfo is a point in time snapshot of the driver.
type StatusInfo struct {
	State          BusState
	MsgsToTx       uint32
	MsgsToRx       uint32
	TxErrorCounter uint32
	RxErrorCounter uint32
	TxFailedCount  uint32
	RxMissedCount  uint32
	RxOverrunCount uint32
	ArbLostCount   uint32
	BusErrorCount  uint32
}

func (st StatusInfo) String() string {
	return fmt.Sprintf("state=%s to_tx=%d to_rx=%d tx_fail=%d bus_err=%d tx_err=%d rx_err=%d",
		st.State, st.MsgsToTx, st.MsgsToRx, st.TxFailedCount, st.BusErrorCount, st.TxErrorCounter, st.RxErrorCounter)
}
