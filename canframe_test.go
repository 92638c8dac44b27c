package canecho

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"standard max id", Frame{ID: MaxStandardID, Len: 8}, false},
		{"standard id too large", Frame{ID: 0x800}, true},
		{"extended max id", Frame{ID: MaxExtendedID, Extended: true}, false},
		{"extended id too large", Frame{ID: 0x20000000, Extended: true}, true},
		{"length too large", Frame{ID: 0x100, Len: 9}, true},
		{"remote frame", NewRemoteFrame(0x100, false, 4), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFrame))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewFrame_CopiesAndTruncates(t *testing.T) {
	data := []byte{1, 2, 3}
	f := NewFrame(0x123, data)
	data[0] = 0xFF
	assert.Equal(t, uint8(3), f.Len)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload())

	long := NewFrame(0x123, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.Equal(t, uint8(8), long.Len)
	assert.Equal(t, byte(7), long.Data[7])

	ext := NewExtendedFrame(0x1ABCDEFF, nil)
	assert.True(t, ext.Extended)
	assert.NoError(t, ext.Validate())
}

func TestFrame_PayloadRemote(t *testing.T) {
	f := NewRemoteFrame(0x100, false, 8)
	assert.Nil(t, f.Payload())
	assert.Equal(t, 8, f.DLC())
}

func TestFrame_String(t *testing.T) {
	s := NewFrame(0x123, []byte{0xDE, 0xAD, 'h', 'i'}).String()
	assert.Contains(t, s, "0x123 || STD")
	assert.Contains(t, s, "|| 4 || DE AD 68 69")
	assert.Contains(t, s, "··hi")

	ext := NewRemoteFrame(0x1ABCDEFF, true, 0).String()
	assert.Contains(t, ext, "0x1ABCDEFF || EXT RTR || 0 ||")
}
