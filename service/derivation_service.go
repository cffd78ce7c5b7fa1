package service

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	mrbase58 "github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"

	"github.com/crypto_gateway/chain"
)

// DerivedKey is the result of one derivation: everything needed to persist
// and monitor an address, plus the private scalar should local signing ever
// be wired up.
type DerivedKey struct {
	Address        string
	DerivationPath string
	PublicKey      string
	PrivateKey     []byte
}

// DerivationService turns (seed, chain, index) into a deterministic keypair
// and address. Pure computation, no I/O: identical inputs always produce
// identical outputs, which is what makes index replay and seed-only recovery
// possible.
type DerivationService struct{}

func NewDerivationService() *DerivationService { return &DerivationService{} }

// GenerateMnemonic produces a fresh 24-word BIP39 mnemonic.
func (s *DerivationService) GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic expands a mnemonic (and optional passphrase) to the
// 64-byte BIP39 seed.
func (s *DerivationService) SeedFromMnemonic(mnemonic, passphrase string) []byte {
	return bip39.NewSeed(mnemonic, passphrase)
}

// Fingerprint identifies a seed without revealing it.
func (s *DerivationService) Fingerprint(seed []byte) string {
	sum := ethcrypto.Keccak256(seed)
	return hex.EncodeToString(sum[:8])
}

// MasterPublicKey returns the neutered BIP32 master key for the seed.
func (s *DerivationService) MasterPublicKey(seed []byte) (string, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	xpub, err := master.Neuter()
	if err != nil {
		return "", fmt.Errorf("neuter master key: %w", err)
	}
	return xpub.String(), nil
}

// Derive walks m/44'/<coin>'/0'/0/<index> and encodes the child key per the
// chain's address family. Tokens reuse their host chain's coin type, so a
// token address equals the host chain address at the same index.
func (s *DerivationService) Derive(seed []byte, chainSym string, index uint32) (*DerivedKey, error) {
	spec, err := chain.Lookup(chainSym)
	if err != nil {
		return nil, err
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	child := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + spec.CoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	} {
		if child, err = child.Derive(step); err != nil {
			return nil, fmt.Errorf("derive step %d: %w", step, err)
		}
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	compressed := pub.SerializeCompressed()

	address, err := encodeAddress(spec, compressed)
	if err != nil {
		return nil, err
	}
	return &DerivedKey{
		Address:        address,
		DerivationPath: fmt.Sprintf("m/44'/%d'/0'/0/%d", spec.CoinType, index),
		PublicKey:      hex.EncodeToString(compressed),
		PrivateKey:     priv.Serialize(),
	}, nil
}

// encodeAddress is the single dispatch over chain families; per-chain
// encoders live here and nowhere else.
func encodeAddress(spec chain.Spec, compressedPub []byte) (string, error) {
	switch spec.Kind {
	case chain.KindUTXO:
		return base58.CheckEncode(btcutil.Hash160(compressedPub), spec.P2PKHVersion), nil
	case chain.KindAccount, chain.KindToken:
		ecdsaPub, err := ethcrypto.DecompressPubkey(compressedPub)
		if err != nil {
			return "", fmt.Errorf("decompress public key: %w", err)
		}
		return ethcrypto.PubkeyToAddress(*ecdsaPub).Hex(), nil
	case chain.KindPrivacy:
		// Deterministic base58 encoding over the derived key with a keccak
		// checksum tail, mirroring the chain's address alphabet. Receiving
		// on a view-key chain goes through the wallet RPC, which owns the
		// canonical address; this form is the ledger's stable identifier.
		payload := append([]byte{0x12}, compressedPub...)
		checksum := ethcrypto.Keccak256(payload)[:4]
		return mrbase58.Encode(append(payload, checksum...)), nil
	}
	return "", chain.Errf(chain.KindInvalidInput, "service.encodeAddress", "no encoder for chain kind %q", spec.Kind)
}
