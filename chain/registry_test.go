package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownChains(t *testing.T) {
	btc, err := Lookup("BTC")
	require.NoError(t, err)
	assert.Equal(t, KindUTXO, btc.Kind)
	assert.Equal(t, uint32(0), btc.CoinType)
	assert.Equal(t, int32(8), btc.Decimals)

	usdt, err := Lookup("USDT")
	require.NoError(t, err)
	assert.Equal(t, KindToken, usdt.Kind)
	assert.Equal(t, "ETH", usdt.HostChain)
	assert.NotEmpty(t, usdt.TokenContract)

	// tokens share the host chain's coin type
	eth, err := Lookup("ETH")
	require.NoError(t, err)
	assert.Equal(t, eth.CoinType, usdt.CoinType)
}

func TestLookupUnknownChain(t *testing.T) {
	_, err := Lookup("SHIB")
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestSupportedListsRegistry(t *testing.T) {
	syms := Supported()
	assert.Len(t, syms, 6)
	assert.Contains(t, syms, "BTC")
	assert.Contains(t, syms, "XMR")
}
