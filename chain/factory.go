package chain

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Endpoints maps chain symbols to upstream URLs: Blockbook bases for UTXO
// chains, a JSON-RPC node shared by the account chain and its tokens, and
// the wallet RPC for privacy chains.
type Endpoints struct {
	Blockbook map[string]string
	EthRPC    string
	WalletRPC map[string]string
}

// BuildAdapters constructs one adapter per active registry entry. Chains with
// no configured endpoint are skipped with a warning so a partial deployment
// still monitors what it can.
func BuildAdapters(eps Endpoints, retry RetryPolicy, log zerolog.Logger) (map[string]Adapter, error) {
	adapters := make(map[string]Adapter)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	var ethBackend Backend
	if eps.EthRPC != "" {
		client, err := ethclient.Dial(eps.EthRPC)
		if err != nil {
			return nil, err
		}
		ethBackend = client
	}

	for sym, spec := range registry {
		if !spec.Active {
			continue
		}
		switch spec.Kind {
		case KindUTXO:
			base, ok := eps.Blockbook[sym]
			if !ok {
				log.Warn().Str("chain", sym).Msg("no blockbook endpoint configured, skipping")
				continue
			}
			adapters[sym] = NewUTXOAdapter(spec, base, httpClient, retry, log)
		case KindAccount:
			if ethBackend == nil {
				log.Warn().Str("chain", sym).Msg("no rpc endpoint configured, skipping")
				continue
			}
			adapters[sym] = NewAccountAdapter(spec, ethBackend, retry, log)
		case KindToken:
			if ethBackend == nil {
				log.Warn().Str("chain", sym).Msg("no rpc endpoint configured, skipping")
				continue
			}
			ad, err := NewTokenAdapter(spec, ethBackend, retry, log)
			if err != nil {
				return nil, err
			}
			adapters[sym] = ad
		case KindPrivacy:
			rpcURL, ok := eps.WalletRPC[sym]
			if !ok {
				log.Warn().Str("chain", sym).Msg("no wallet rpc configured, skipping")
				continue
			}
			adapters[sym] = NewPrivacyAdapter(spec, rpcURL, httpClient, retry, log)
		}
	}
	return adapters, nil
}
