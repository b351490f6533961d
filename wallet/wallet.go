// Package wallet is the entry point of the signing core. A Core
// serves one network and ties key resolution, address derivation,
// PSBT signing and message signing together per request.
package wallet

import (
	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/network"
	"github.com/pkg/errors"
)

// Config configures a Core.
type Config struct {
	// Network is the network code, eg `btc` or `tbtc`
	Network string

	// Crypter encrypts key material in flight. A
	// ScryptCrypter is used when nil.
	Crypter keyvault.Crypter
}

// Core implements the signing operations for one network.
type Core struct {
	net   *network.Network
	vault *keyvault.Vault
}

// New checks cfg and returns a Core for its network.
func New(cfg *Config) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	net, err := network.GetNetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	crypter := cfg.Crypter
	if crypter == nil {
		crypter = keyvault.NewScryptCrypter(keyvault.DefaultScryptN)
	}

	return &Core{
		net:   net,
		vault: keyvault.New(crypter),
	}, nil
}

// Network returns the network the core serves.
func (c *Core) Network() *network.Network {
	return c.net
}

// Crypter returns the crypter credentials must be encrypted with.
func (c *Core) Crypter() keyvault.Crypter {
	return c.vault.Crypter()
}

// request binds a keyvault request to the core's network.
func (c *Core) request(req *keyvault.Request) (*keyvault.Request, error) {
	if req == nil {
		return nil, errors.New("key request is required")
	}
	if req.Network == nil {
		req.Network = c.net
	} else if req.Network.Code != c.net.Code {
		return nil, errors.Errorf("request is for %s, core serves %s", req.Network.Code, c.net.Code)
	}
	return req, nil
}
