package node_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roffe/canecho"
	"github.com/roffe/canecho/adapter/virtual"
	"github.com/roffe/canecho/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(t *testing.T, v *virtual.Virtual, mutate ...func(*node.Config)) *node.Node {
	t.Helper()
	cfg := node.DefaultConfig()
	cfg.AlertPoll = time.Millisecond
	cfg.RecoveryWindow = 50 * time.Millisecond
	cfg.RecoveryPoll = 5 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	return node.New(v, cfg,
		node.WithLogger(log.New(io.Discard, "", 0)),
		node.WithMetrics(prometheus.NewRegistry()),
	)
}

func TestNode_EchoesDataFrames(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	require.NoError(t, v.Deliver(canecho.NewFrame(0x100, []byte{0xAA, 0xBB})))
	n.Step(ctx)
	n.Step(ctx)

	sent := v.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x100), sent[0].ID)
	assert.Equal(t, [8]byte{'E', 'C', 'H', 'O', 0xAA, 0xBB, 0x00, 0x00}, sent[0].Data)

	c := n.Counters()
	assert.Equal(t, uint32(1), c.Received)
	assert.Equal(t, uint32(1), c.Transmitted)
	assert.Equal(t, uint32(1), c.Acknowledged)
}

func TestNode_FixedIDPolicy(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v, func(c *node.Config) { c.Echo.Policy = node.FixedID })
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	require.NoError(t, v.Deliver(canecho.NewFrame(0x100, []byte{1, 2, 3, 4})))
	require.NoError(t, v.Deliver(canecho.NewFrame(0x200, []byte{5})))
	n.Step(ctx)

	sent := v.Sent()
	require.Len(t, sent, 2)
	for _, f := range sent {
		assert.Equal(t, uint32(node.DefaultFixedID), f.ID)
	}
	assert.Equal(t, uint32(2), n.Counters().Received)
}

func TestNode_RemoteFramesCountedNotAnswered(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	require.NoError(t, v.Deliver(canecho.NewRemoteFrame(0x100, false, 8)))
	n.Step(ctx)

	assert.Empty(t, v.Sent())
	assert.Zero(t, v.Calls().Transmit)
	c := n.Counters()
	assert.Equal(t, uint32(1), c.Received)
	assert.Zero(t, c.Transmitted)
}

func TestNode_BusOffRecoveryRestarts(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	v.ForceBusOff()
	n.Step(ctx)

	assert.Equal(t, 1, v.Calls().Recovery)
	assert.Equal(t, canecho.StateRunning, n.Controller().State())
	assert.Equal(t, uint32(1), n.Counters().BusOff)

	require.NoError(t, v.Deliver(canecho.NewFrame(0x42, []byte{7})))
	n.Step(ctx)
	assert.Len(t, v.Sent(), 1)
}

func TestNode_StalledRecoveryInitiatesOnce(t *testing.T) {
	v := virtual.New(virtual.WithStalledRecovery())
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))

	v.ForceBusOff()
	start := time.Now()
	n.Step(ctx)
	assert.Less(t, time.Since(start), time.Second)
	n.Step(ctx)
	n.Step(ctx)

	assert.Equal(t, 1, v.Calls().Recovery)
	assert.Equal(t, canecho.StateRecovering, n.Controller().State())
	assert.Equal(t, uint32(1), n.Counters().BusOff)
}

func TestNode_LateRecoveryRestarts(t *testing.T) {
	v := virtual.New(virtual.WithRecoveryDelay(80 * time.Millisecond))
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	v.ForceBusOff()
	n.Step(ctx)
	require.NotEqual(t, canecho.StateRunning, n.Controller().State())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && n.Controller().State() != canecho.StateRunning {
		n.Step(ctx)
	}
	assert.Equal(t, canecho.StateRunning, n.Controller().State())
	assert.Equal(t, 1, v.Calls().Recovery)
	assert.Equal(t, 2, v.Calls().Start)

	require.NoError(t, v.Deliver(canecho.NewFrame(0x42, []byte{7})))
	n.Step(ctx)
	assert.Len(t, v.Sent(), 1)
}

func TestNode_NoAckDrivesBusOff(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	v.SetAck(false)
	for i := 0; i < 40 && n.Counters().BusOff == 0; i++ {
		if err := v.Deliver(canecho.NewFrame(0x10, []byte{byte(i)})); err != nil {
			n.Step(ctx)
			continue
		}
		n.Step(ctx)
	}
	c := n.Counters()
	assert.Equal(t, uint32(1), c.BusOff)
	assert.NotZero(t, c.TxFailed)
	assert.NotZero(t, c.BusErrors)
	assert.Zero(t, c.Acknowledged)
}

func TestNode_StartFailureProcessesNothing(t *testing.T) {
	v := virtual.New(virtual.WithInstallError(errors.New("no transceiver")))
	n := newNode(t, v)
	ctx := context.Background()

	err := n.Run(ctx)
	require.Error(t, err)
	assert.False(t, canecho.IsRecoverable(err))

	n.Step(ctx)
	calls := v.Calls()
	assert.Zero(t, calls.Receive)
	assert.Zero(t, calls.Transmit)
	assert.Zero(t, calls.Start)
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	v := virtual.New()
	n := newNode(t, v)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.NoError(t, n.Run(ctx))
	calls := v.Calls()
	assert.Equal(t, 1, calls.Stop)
	assert.Equal(t, 1, calls.Uninstall)
}
