package canecho

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlert_String(t *testing.T) {
	assert.Equal(t, "NONE", AlertNone.String())
	assert.Equal(t, "RX_DATA TX_SUCCESS BUS_OFF", (AlertBusOff | AlertRxData | AlertTxSuccess).String())
	assert.Len(t, AlertAll.Names(), 12)
}

func TestParseAlerts(t *testing.T) {
	a, err := ParseAlerts([]string{"rx_data", " BUS_OFF "})
	require.NoError(t, err)
	assert.Equal(t, AlertRxData|AlertBusOff, a)

	all, err := ParseAlerts([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, AlertAll, all)

	_, err = ParseAlert("NOPE")
	assert.Error(t, err)
}

func TestAlertLatch_MasksAndAccumulates(t *testing.T) {
	l := NewAlertLatch(AlertRxData | AlertBusOff)
	l.Raise(AlertRxData)
	l.Raise(AlertTxSuccess) // not enabled
	l.Raise(AlertBusOff)

	a, err := l.Read(0)
	require.NoError(t, err)
	assert.Equal(t, AlertRxData|AlertBusOff, a)

	_, err = l.Read(0)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestAlertLatch_ReadWaits(t *testing.T) {
	l := NewAlertLatch(AlertAll)
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Raise(AlertBusRecovered)
	}()
	a, err := l.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, AlertBusRecovered, a)
}

func TestAlertLatch_ReadTimeout(t *testing.T) {
	l := NewAlertLatch(AlertAll)
	start := time.Now()
	_, err := l.Read(20 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
