package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKey_BothSidesAgree(t *testing.T) {
	alice, err := GenerateEncryptionKeyPair()
	require.NoError(t, err)
	bob, err := GenerateEncryptionKeyPair()
	require.NoError(t, err)

	aliceShared, err := SharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	bobShared, err := SharedSecret(bob.Private, alice.Public)
	require.NoError(t, err)

	// Порядок device_id не важен
	k1, err := DeriveSessionKey(aliceShared, "alice", "bob")
	require.NoError(t, err)
	k2, err := DeriveSessionKey(bobShared, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, aliceShared, k1, "ключ сессии не должен совпадать с сырым секретом")
}

func TestDeriveSessionKey_DifferentPeersDifferentKeys(t *testing.T) {
	shared := make([]byte, 32)
	shared[0] = 1

	k1, err := DeriveSessionKey(shared, "alice", "bob")
	require.NoError(t, err)
	k2, err := DeriveSessionKey(shared, "alice", "carol")
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveSessionKey_Validation(t *testing.T) {
	_, err := DeriveSessionKey(nil, "a", "b")
	assert.Error(t, err)

	_, err = DeriveSessionKey([]byte{1}, "", "b")
	assert.Error(t, err)
}
