package canecho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingPresets_Bitrate(t *testing.T) {
	for kbit := range timingPresets {
		tc, err := TimingFor(kbit)
		require.NoError(t, err)
		assert.Equal(t, uint32(kbit*1000), tc.Bitrate(), "preset %dk", kbit)
		assert.NoError(t, tc.Validate(), "preset %dk", kbit)
	}
	_, err := TimingFor(333)
	assert.Error(t, err)
	assert.Equal(t, uint32(250000), Timing250K().Bitrate())
}

func TestFilter_Match(t *testing.T) {
	std := NewFrame(0x123, nil)
	ext := NewExtendedFrame(0x1ABCDEFF, nil)

	all := FilterAcceptAll()
	assert.True(t, all.Match(std))
	assert.True(t, all.Match(ext))

	exact := FilterExact(0x123, false)
	assert.True(t, exact.Match(std))
	assert.True(t, exact.Match(NewRemoteFrame(0x123, false, 0)))
	assert.False(t, exact.Match(NewFrame(0x124, nil)))

	exactExt := FilterExact(0x1ABCDEFF, true)
	assert.True(t, exactExt.Match(ext))
	assert.False(t, exactExt.Match(NewExtendedFrame(0x1ABCDEFE, nil)))
}

func TestDriverConfig_Validate(t *testing.T) {
	cfg := DefaultDriverConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.TxPin)
	assert.Equal(t, 5, cfg.RxPin)

	cfg.RxPin = cfg.TxPin
	assert.Error(t, cfg.Validate())

	cfg = DefaultDriverConfig()
	cfg.RxQueueLen = 0
	assert.Error(t, cfg.Validate())
}

func TestErrors_Unrecoverable(t *testing.T) {
	base := ErrNotInstalled
	err := Unrecoverable(base)
	assert.False(t, IsRecoverable(err))
	assert.ErrorIs(t, err, ErrNotInstalled)
	assert.True(t, IsRecoverable(base))

	te := &TransmitError{Code: 0x103, Err: ErrInvalidState}
	assert.ErrorIs(t, te, ErrInvalidState)
	assert.Contains(t, te.Error(), "259")
}
