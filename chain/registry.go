package chain

// ChainKind is the transaction-model family an adapter implements.
type ChainKind string

const (
	KindUTXO    ChainKind = "utxo"
	KindAccount ChainKind = "account"
	KindToken   ChainKind = "token"
	KindPrivacy ChainKind = "privacy"
)

// Spec is the static per-chain configuration: BIP44 coin type, native unit
// scaling and address encoding parameters. Tokens reuse their host chain's
// coin type so token deposit addresses equal the host chain's.
type Spec struct {
	Symbol                string
	Name                  string
	Kind                  ChainKind
	CoinType              uint32
	Decimals              int32
	RequiredConfirmations int64
	// P2PKHVersion is the base58check version byte for UTXO chains.
	P2PKHVersion byte
	// HostChain and TokenContract are set for token chains only.
	HostChain     string
	TokenContract string
	Active        bool
}

var registry = map[string]Spec{
	"BTC":  {Symbol: "BTC", Name: "Bitcoin", Kind: KindUTXO, CoinType: 0, Decimals: 8, RequiredConfirmations: 2, P2PKHVersion: 0x00, Active: true},
	"LTC":  {Symbol: "LTC", Name: "Litecoin", Kind: KindUTXO, CoinType: 2, Decimals: 8, RequiredConfirmations: 6, P2PKHVersion: 0x30, Active: true},
	"DOGE": {Symbol: "DOGE", Name: "Dogecoin", Kind: KindUTXO, CoinType: 3, Decimals: 8, RequiredConfirmations: 6, P2PKHVersion: 0x1e, Active: true},
	"ETH":  {Symbol: "ETH", Name: "Ethereum", Kind: KindAccount, CoinType: 60, Decimals: 18, RequiredConfirmations: 12, Active: true},
	"USDT": {Symbol: "USDT", Name: "Tether USD", Kind: KindToken, CoinType: 60, Decimals: 6, RequiredConfirmations: 12, HostChain: "ETH", TokenContract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Active: true},
	"XMR":  {Symbol: "XMR", Name: "Monero", Kind: KindPrivacy, CoinType: 128, Decimals: 12, RequiredConfirmations: 10, Active: true},
}

// Lookup resolves a chain symbol to its spec. An unknown symbol is a
// configuration error, terminal for the single call.
func Lookup(symbol string) (Spec, error) {
	s, ok := registry[symbol]
	if !ok {
		return Spec{}, Errf(KindInvalidInput, "chain.Lookup", "unsupported chain %q", symbol)
	}
	return s, nil
}

// Supported returns all registered chain symbols.
func Supported() []string {
	out := make([]string, 0, len(registry))
	for sym := range registry {
		out = append(out, sym)
	}
	return out
}
