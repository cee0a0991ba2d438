package boltdb

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/peersync/internal/models"
)

func testDevice(id string, level models.PermissionLevel) *models.TrustedDevice {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.TrustedDevice{
		DeviceID:            id,
		DisplayName:         "device " + id,
		DeviceType:          models.DeviceTypeDesktop,
		EncryptionPublicKey: []byte("enc-" + id),
		SigningPublicKey:    []byte("sign-" + id),
		Permissions: map[string]models.Permission{
			"sync": {Capability: "sync", Level: level, GrantedBy: "self", GrantedAt: now},
		},
		TrustedAt: now,
		LastSeen:  now,
		IsActive:  true,
	}
}

func TestStorage_SaveLoadTrustedDevices(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	devices := []*models.TrustedDevice{
		testDevice("aaaa", models.LevelRead),
		testDevice("bbbb", models.LevelWrite),
	}
	require.NoError(t, store.SaveTrustedDevices(ctx, devices))

	loaded, err := store.LoadTrustedDevices(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].DeviceID < loaded[j].DeviceID })
	assert.Equal(t, "aaaa", loaded[0].DeviceID)
	assert.Equal(t, models.LevelWrite, loaded[1].Permissions["sync"].Level)
	assert.Equal(t, []byte("sign-bbbb"), loaded[1].SigningPublicKey)
	assert.True(t, loaded[0].TrustedAt.Equal(devices[0].TrustedAt))
}

func TestStorage_SaveTrustedDevices_ReplacesWholeSet(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTrustedDevices(ctx, []*models.TrustedDevice{
		testDevice("aaaa", models.LevelRead),
		testDevice("bbbb", models.LevelRead),
	}))

	// Удаленное из набора устройство должно исчезнуть из хранилища
	require.NoError(t, store.SaveTrustedDevices(ctx, []*models.TrustedDevice{
		testDevice("bbbb", models.LevelAdmin),
	}))

	loaded, err := store.LoadTrustedDevices(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "bbbb", loaded[0].DeviceID)
	assert.Equal(t, models.LevelAdmin, loaded[0].Permissions["sync"].Level)

	// Пустой набор
	require.NoError(t, store.SaveTrustedDevices(ctx, nil))
	loaded, err = store.LoadTrustedDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStorage_PeerAddresses(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	desc := models.DeviceDescriptor{DeviceID: "aaaa", Name: "laptop", Address: "192.168.1.10", Port: 8001}
	require.NoError(t, store.SavePeerAddress(ctx, desc))

	// Обновление адреса перезаписывает запись
	desc.Address = "192.168.1.11"
	require.NoError(t, store.SavePeerAddress(ctx, desc))

	loaded, err := store.LoadPeerAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "192.168.1.11", loaded[0].Address)

	require.NoError(t, store.DeletePeerAddress(ctx, "aaaa"))
	loaded, err = store.LoadPeerAddresses(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
