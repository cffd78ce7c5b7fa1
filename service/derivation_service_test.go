package service

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto_gateway/chain"
)

var testSeed = []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

func TestDeriveDeterministic(t *testing.T) {
	s := NewDerivationService()

	for _, sym := range []string{"BTC", "ETH", "USDT", "XMR", "LTC", "DOGE"} {
		first, err := s.Derive(testSeed, sym, 0)
		require.NoError(t, err, sym)
		second, err := s.Derive(testSeed, sym, 0)
		require.NoError(t, err, sym)

		assert.Equal(t, first.Address, second.Address, sym)
		assert.Equal(t, first.DerivationPath, second.DerivationPath, sym)
		assert.Equal(t, first.PublicKey, second.PublicKey, sym)
		assert.Equal(t, first.PrivateKey, second.PrivateKey, sym)
	}
}

func TestDeriveDistinctIndexes(t *testing.T) {
	s := NewDerivationService()

	a0, err := s.Derive(testSeed, "BTC", 0)
	require.NoError(t, err)
	a1, err := s.Derive(testSeed, "BTC", 1)
	require.NoError(t, err)

	assert.NotEqual(t, a0.Address, a1.Address)
	assert.Equal(t, "m/44'/0'/0'/0/0", a0.DerivationPath)
	assert.Equal(t, "m/44'/0'/0'/0/1", a1.DerivationPath)

	// replaying the same indexes later recovers the same addresses
	again, err := s.Derive(testSeed, "BTC", 0)
	require.NoError(t, err)
	assert.Equal(t, a0.Address, again.Address)
}

func TestDeriveEncodingPerFamily(t *testing.T) {
	s := NewDerivationService()

	btc, err := s.Derive(testSeed, "BTC", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(btc.Address, "1"), "mainnet p2pkh starts with 1, got %s", btc.Address)

	eth, err := s.Derive(testSeed, "ETH", 0)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(eth.Address))

	// tokens reuse the host chain's coin type, so the address matches
	usdt, err := s.Derive(testSeed, "USDT", 0)
	require.NoError(t, err)
	assert.Equal(t, eth.Address, usdt.Address)

	xmr, err := s.Derive(testSeed, "XMR", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, xmr.Address)
	assert.NotEqual(t, eth.Address, xmr.Address)
}

func TestDeriveUnsupportedChain(t *testing.T) {
	s := NewDerivationService()

	_, err := s.Derive(testSeed, "NOPE", 0)
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))
}

func TestDeriveDifferentSeeds(t *testing.T) {
	s := NewDerivationService()

	other := []byte("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	a, err := s.Derive(testSeed, "BTC", 0)
	require.NoError(t, err)
	b, err := s.Derive(other, "BTC", 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.Address, b.Address)
}

func TestMnemonicRoundTrip(t *testing.T) {
	s := NewDerivationService()

	mnemonic, err := s.GenerateMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 24)

	seed := s.SeedFromMnemonic(mnemonic, "")
	assert.Len(t, seed, 64)
	assert.Equal(t, seed, s.SeedFromMnemonic(mnemonic, ""))
	assert.NotEqual(t, seed, s.SeedFromMnemonic(mnemonic, "passphrase"))

	xpub, err := s.MasterPublicKey(seed)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(xpub, "xpub"))
}
