package virtual

import (
	"errors"
	"testing"
	"time"

	"github.com/roffe/canecho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T, opts ...Option) *Virtual {
	t.Helper()
	v := New(opts...)
	require.NoError(t, v.Install(canecho.DefaultDriverConfig()))
	require.NoError(t, v.Start())
	return v
}

func TestVirtual_Lifecycle(t *testing.T) {
	v := New()
	_, err := v.Status()
	assert.ErrorIs(t, err, canecho.ErrNotInstalled)

	require.NoError(t, v.Install(canecho.DefaultDriverConfig()))
	assert.ErrorIs(t, v.Install(canecho.DefaultDriverConfig()), canecho.ErrAlreadyInstalled)

	st, err := v.Status()
	require.NoError(t, err)
	assert.Equal(t, canecho.StateStopped, st.State)

	require.NoError(t, v.Start())
	assert.ErrorIs(t, v.Uninstall(), canecho.ErrInvalidState)
	require.NoError(t, v.Stop())
	require.NoError(t, v.Uninstall())

	c := v.Calls()
	assert.Equal(t, 2, c.Install)
	assert.Equal(t, 1, c.Start)
	assert.Equal(t, 2, c.Uninstall)
}

func TestVirtual_InjectedFailures(t *testing.T) {
	boom := errors.New("boom")
	v := New(WithInstallError(boom))
	assert.ErrorIs(t, v.Install(canecho.DefaultDriverConfig()), boom)

	v = New(WithStartError(boom))
	require.NoError(t, v.Install(canecho.DefaultDriverConfig()))
	assert.ErrorIs(t, v.Start(), boom)
}

func TestVirtual_DeliverAndReceive(t *testing.T) {
	v := started(t)
	_, err := v.Receive(0)
	assert.ErrorIs(t, err, canecho.ErrTimeout)

	in := canecho.NewFrame(0x100, []byte{0xAA, 0xBB})
	require.NoError(t, v.Deliver(in))

	a, err := v.ReadAlerts(0)
	require.NoError(t, err)
	assert.Equal(t, canecho.AlertRxData, a)

	got, err := v.Receive(0)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestVirtual_RxQueueFull(t *testing.T) {
	v := New()
	cfg := canecho.DefaultDriverConfig()
	cfg.RxQueueLen = 1
	require.NoError(t, v.Install(cfg))
	require.NoError(t, v.Start())

	require.NoError(t, v.Deliver(canecho.NewFrame(1, nil)))
	require.NoError(t, v.Deliver(canecho.NewFrame(2, nil)))

	a, err := v.ReadAlerts(0)
	require.NoError(t, err)
	assert.True(t, a.Has(canecho.AlertRxData|canecho.AlertRxQueueFull))

	st, _ := v.Status()
	assert.Equal(t, uint32(1), st.RxMissedCount)
	assert.Equal(t, uint32(1), st.MsgsToRx)
}

func TestVirtual_FilterDropsFrames(t *testing.T) {
	v := New()
	cfg := canecho.DefaultDriverConfig()
	cfg.Filter = canecho.FilterExact(0x100, false)
	require.NoError(t, v.Install(cfg))
	require.NoError(t, v.Start())

	require.NoError(t, v.Deliver(canecho.NewFrame(0x200, nil)))
	_, err := v.Receive(0)
	assert.ErrorIs(t, err, canecho.ErrTimeout)
}

func TestVirtual_TransmitAck(t *testing.T) {
	v := started(t)
	out := canecho.NewFrame(0x321, []byte("ECHO"))
	require.NoError(t, v.Transmit(out, 0))
	assert.Equal(t, []canecho.Frame{out}, v.Sent())

	a, err := v.ReadAlerts(0)
	require.NoError(t, err)
	assert.Equal(t, canecho.AlertTxSuccess, a)
}

func TestVirtual_TransmitErrors(t *testing.T) {
	v := New()
	var te *canecho.TransmitError
	require.ErrorAs(t, v.Transmit(canecho.NewFrame(1, nil), 0), &te)

	require.NoError(t, v.Install(canecho.DefaultDriverConfig()))
	require.ErrorAs(t, v.Transmit(canecho.NewFrame(1, nil), 0), &te)
	assert.Equal(t, CodeInvalidState, te.Code)

	require.NoError(t, v.Start())
	require.ErrorAs(t, v.Transmit(canecho.Frame{ID: 0x800}, 0), &te)
	assert.Equal(t, CodeInvalidArg, te.Code)
}

func TestVirtual_TxHoldTimesOut(t *testing.T) {
	v := New()
	cfg := canecho.DefaultDriverConfig()
	cfg.TxQueueLen = 1
	require.NoError(t, v.Install(cfg))
	require.NoError(t, v.Start())
	v.SetTxHold(true)

	require.NoError(t, v.Transmit(canecho.NewFrame(1, nil), 0))
	err := v.Transmit(canecho.NewFrame(2, nil), 10*time.Millisecond)
	assert.ErrorIs(t, err, canecho.ErrTimeout)

	st, _ := v.Status()
	assert.Equal(t, uint32(1), st.MsgsToTx)

	v.SetTxHold(false)
	assert.Len(t, v.Sent(), 1)
}

func TestVirtual_NoAckDrivesBusOff(t *testing.T) {
	v := started(t)
	v.SetAck(false)

	var seen canecho.Alert
	for i := 0; i < 32; i++ {
		require.NoError(t, v.Transmit(canecho.NewFrame(1, nil), 0))
		a, _ := v.ReadAlerts(0)
		seen |= a
	}
	assert.True(t, seen.Has(canecho.AlertTxFailed|canecho.AlertBusError|canecho.AlertErrPass|canecho.AlertBusOff))

	st, _ := v.Status()
	assert.Equal(t, canecho.StateBusOff, st.State)
	assert.Equal(t, uint32(32), st.TxFailedCount)

	var te *canecho.TransmitError
	assert.ErrorAs(t, v.Transmit(canecho.NewFrame(1, nil), 0), &te)
}

func TestVirtual_Recovery(t *testing.T) {
	v := started(t)
	assert.ErrorIs(t, v.InitiateRecovery(), canecho.ErrInvalidState)

	v.ForceBusOff()
	v.ReadAlerts(0)
	require.NoError(t, v.InitiateRecovery())

	a, err := v.ReadAlerts(0)
	require.NoError(t, err)
	assert.Equal(t, canecho.AlertBusRecovered, a)

	st, _ := v.Status()
	assert.Equal(t, canecho.StateStopped, st.State)
	assert.Zero(t, st.TxErrorCounter)
	require.NoError(t, v.Start())
}

func TestVirtual_DelayedRecovery(t *testing.T) {
	v := started(t, WithRecoveryDelay(20*time.Millisecond))
	v.ForceBusOff()
	v.ReadAlerts(0)
	require.NoError(t, v.InitiateRecovery())

	st, _ := v.Status()
	assert.Equal(t, canecho.StateRecovering, st.State)

	a, err := v.ReadAlerts(time.Second)
	require.NoError(t, err)
	assert.Equal(t, canecho.AlertBusRecovered, a)
}

func TestVirtual_Registered(t *testing.T) {
	drv, err := canecho.NewDriver("Virtual", nil)
	require.NoError(t, err)
	assert.Equal(t, "virtual", drv.Name())
}
