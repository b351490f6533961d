package signer

import (
	"context"
	"fmt"
	"sort"

	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"
)

// SignerNotFoundError is returned when no key is
// bound to an address of the request.
type SignerNotFoundError struct {
	Address string
}

func (e *SignerNotFoundError) Error() string {
	return fmt.Sprintf("BTC signer not found: %s", e.Address)
}

// Key is an encrypted private key bound to one address.
// The private key is only decrypted for the duration of
// a signature.
type Key struct {
	Address string
	Path    string

	encrypted []byte
	password  string
	crypter   keyvault.Crypter

	pub *btcec.PublicKey
}

// NewKey binds an encrypted private key to its address.
func NewKey(address, path string, encrypted []byte, password string, crypter keyvault.Crypter) *Key {
	return &Key{
		Address:   address,
		Path:      path,
		encrypted: encrypted,
		password:  password,
		crypter:   crypter,
	}
}

// PrivKey decrypts the private key. Callers must Zero it.
func (k *Key) PrivKey(ctx context.Context) (*btcec.PrivateKey, error) {
	raw, err := k.crypter.Decrypt(ctx, k.password, k.encrypted)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decrypt key of %s", k.Address)
	}
	defer zero(raw)

	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, errors.Errorf("decrypted key of %s has length %d", k.Address, len(raw))
	}

	priv, pub := btcec.PrivKeyFromBytes(raw)
	if k.pub == nil {
		k.pub = pub
	}

	return priv, nil
}

// PubKey returns the public key, decrypting once.
func (k *Key) PubKey(ctx context.Context) (*btcec.PublicKey, error) {
	if k.pub != nil {
		return k.pub, nil
	}

	priv, err := k.PrivKey(ctx)
	if err != nil {
		return nil, err
	}
	priv.Zero()

	return k.pub, nil
}

// Account associates a derivation path, an address and
// optionally the public key behind it, for one request.
type Account struct {
	Path    string
	Address string
	PubKey  *btcec.PublicKey
}

// Keys maps addresses to their keys for one request.
type Keys map[string]*Key

// Pick returns the key of address.
func (k Keys) Pick(address string) (*Key, error) {
	key, ok := k[address]
	if !ok {
		return nil, &SignerNotFoundError{Address: address}
	}
	return key, nil
}

// NewKeys binds the resolved full path keys to the
// addresses recorded for them.
func NewKeys(resolved keyvault.EncryptedKeys, paths map[string]keyvault.PathAddress,
	password string, crypter keyvault.Crypter) (Keys, error) {

	fullPaths := make([]string, 0, len(resolved))
	for fullPath := range resolved {
		fullPaths = append(fullPaths, fullPath)
	}
	sort.Strings(fullPaths)

	keys := make(Keys, len(resolved))
	for _, fullPath := range fullPaths {
		record, ok := paths[fullPath]
		if !ok || record.Address == "" {
			return nil, errors.Errorf("address is required for key at %s", fullPath)
		}
		keys[record.Address] = NewKey(record.Address, fullPath, resolved[fullPath], password, crypter)
	}

	return keys, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
