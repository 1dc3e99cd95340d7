package crypto

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var subscriber = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestPermitRoundTrip(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 1)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	oracle := NewPermitOracle(s.Address(), 1).WithClock(func() time.Time { return now })

	permit, err := s.SignPermit(subscriber, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, permit, PermitLen)

	ok, err := oracle.IsSubscribed(context.Background(), subscriber, permit)
	require.NoError(t, err)
	assert.True(t, ok)

	decoded, err := DecodePermit(EncodePermit(permit))
	require.NoError(t, err)
	assert.Equal(t, permit, decoded)
}

func TestPermitRejections(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	oracle := NewPermitOracle(s.Address(), 1).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := oracle.IsSubscribed(ctx, subscriber, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	expired, err := s.SignPermit(subscriber, now.Add(-time.Second))
	require.NoError(t, err)
	_, err = oracle.IsSubscribed(ctx, subscriber, expired)
	assert.ErrorIs(t, err, domain.ErrSubscriptionExpired)

	valid, err := s.SignPermit(subscriber, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = oracle.IsSubscribed(ctx, common.HexToAddress("0xbeef"), valid)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = oracle.IsSubscribed(ctx, subscriber, valid[:40])
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	otherChain := NewPermitOracle(s.Address(), 137).WithClock(func() time.Time { return now })
	_, err = otherChain.IsSubscribed(ctx, subscriber, valid)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	foreign, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	forged, err := NewSignerFromKey(foreign, 1).SignPermit(subscriber, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = oracle.IsSubscribed(ctx, subscriber, forged)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestKeyFileRoundTrip(t *testing.T) {
	data, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "swapper.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	key, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	raw, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, raw.Address, key.Address)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}
