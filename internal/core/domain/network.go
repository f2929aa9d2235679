package domain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	NetworkBitcoin = "bitcoin"
	NetworkTestnet = "testnet"
	NetworkSignet  = "signet"
	NetworkRegtest = "regtest"
)

var (
	ErrNetworkUnknown = fmt.Errorf("unknown network")

	networks = map[string]*chaincfg.Params{
		NetworkBitcoin: &chaincfg.MainNetParams,
		NetworkTestnet: &chaincfg.TestNet3Params,
		NetworkSignet:  &chaincfg.SigNetParams,
		NetworkRegtest: &chaincfg.RegressionNetParams,
	}
	// some tools name networks after the chaincfg params.
	networkAliases = map[string]string{
		"main":     NetworkBitcoin,
		"mainnet":  NetworkBitcoin,
		"test":     NetworkTestnet,
		"testnet3": NetworkTestnet,
	}
)

// NetworkParams returns the chain params for the given network name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	params, ok := networks[NormalizeNetwork(name)]
	if !ok {
		return nil, ErrNetworkUnknown
	}
	return params, nil
}

// NormalizeNetwork maps known aliases to the canonical network names.
func NormalizeNetwork(name string) string {
	if n, ok := networkAliases[name]; ok {
		return n
	}
	return name
}

// SameNetwork returns whether the two network names refer to the same chain.
// Signet and regtest share the testnet key version bytes, hence a device
// reporting "testnet" is considered compatible with them.
func SameNetwork(device, wallet string) bool {
	device, wallet = NormalizeNetwork(device), NormalizeNetwork(wallet)
	if device == wallet {
		return true
	}
	if device == NetworkTestnet {
		return wallet == NetworkSignet || wallet == NetworkRegtest
	}
	return false
}
