package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		errMsg  string
		wantErr bool
	}{
		{name: "valid", id: "0123456789abcdef"},
		{name: "empty", id: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "too short", id: "0123", wantErr: true, errMsg: "16 lowercase hex"},
		{name: "too long", id: "0123456789abcdef0", wantErr: true, errMsg: "16 lowercase hex"},
		{name: "uppercase", id: "0123456789ABCDEF", wantErr: true, errMsg: "16 lowercase hex"},
		{name: "not hex", id: "0123456789abcdeg", wantErr: true, errMsg: "16 lowercase hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		errMsg  string
		wantErr bool
	}{
		{name: "simple", id: "note1"},
		{name: "namespaced", id: "prefs:theme.dark-mode_v2"},
		{name: "max length", id: strings.Repeat("a", MaxDocumentIDLen)},
		{name: "empty", id: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "too long", id: strings.Repeat("a", MaxDocumentIDLen+1), wantErr: true, errMsg: "must not exceed"},
		{name: "slash", id: "a/b", wantErr: true, errMsg: "can only contain"},
		{name: "space", id: "a b", wantErr: true, errMsg: "can only contain"},
		{name: "cyrillic", id: "заметка", wantErr: true, errMsg: "can only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDeviceName(t *testing.T) {
	assert.NoError(t, ValidateDeviceName("Кухонный хаб"))
	assert.NoError(t, ValidateDeviceName(strings.Repeat("я", MaxDeviceNameLen)))

	assert.Error(t, ValidateDeviceName(""))
	assert.Error(t, ValidateDeviceName(strings.Repeat("я", MaxDeviceNameLen+1)))
	assert.Error(t, ValidateDeviceName(string([]byte{0xff, 0xfe})))
}

func TestValidatePassphrase(t *testing.T) {
	assert.NoError(t, ValidatePassphrase(""), "пустая passphrase отключает шифрование")
	assert.NoError(t, ValidatePassphrase("correct horse battery"))

	err := ValidatePassphrase("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 12")
}
