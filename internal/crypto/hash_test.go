package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDFromKey(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		key     []byte
		wantErr bool
	}{
		{
			name:    "successful hash",
			key:     []byte("0123456789abcdef0123456789abcdef"),
			wantErr: false,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
			errMsg:  "public key cannot be empty",
		},
		{
			name:    "nil key",
			key:     nil,
			wantErr: true,
			errMsg:  "public key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := DeviceIDFromKey(tt.key)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Empty(t, id)
			} else {
				require.NoError(t, err)
				assert.Len(t, id, DeviceIDLength)
				assert.Regexp(t, "^[0-9a-f]+$", id)
			}
		})
	}
}

func TestDeviceIDFromKey_Deterministic(t *testing.T) {
	key := []byte("same-public-key-material-32bytes")

	id1, err := DeviceIDFromKey(key)
	require.NoError(t, err)
	id2, err := DeviceIDFromKey(key)
	require.NoError(t, err)
	other, err := DeviceIDFromKey([]byte("other-public-key-material-32byte"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, other)
}

func TestVerifyDeviceID(t *testing.T) {
	pair, err := GenerateEncryptionKeyPair()
	require.NoError(t, err)
	id, err := DeviceIDFromKey(pair.Public)
	require.NoError(t, err)

	assert.NoError(t, VerifyDeviceID(id, pair.Public))

	err = VerifyDeviceID("0000000000000000", pair.Public)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	err = VerifyDeviceID("", pair.Public)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device id cannot be empty")
}
