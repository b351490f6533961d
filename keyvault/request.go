package keyvault

import (
	"fmt"

	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
)

// Credentials is the encrypted root material of an
// account, either *HDCredentials or *ImportedCredentials.
type Credentials interface {
	isCredentials()
}

// HDCredentials hold the password encrypted BIP39 entropy.
type HDCredentials struct {
	EncryptedEntropy []byte
}

// ImportedCredentials hold a password encrypted
// 78 byte BIP32 serialization of an account xprv.
type ImportedCredentials struct {
	EncryptedXprv []byte
}

func (*HDCredentials) isCredentials()       {}
func (*ImportedCredentials) isCredentials() {}

// PathAddress is the address on record for a full path.
type PathAddress struct {
	Address string
	RelPath string
}

// Request carries everything needed to resolve the keys of
// one signing request. Its derivation cache lives and dies
// with it.
type Request struct {
	Network     *network.Network
	Password    string
	Credentials Credentials

	// AccountPath is the absolute account path of an
	// HD account, eg m/84'/0'/0'. Unused for imported ones.
	AccountPath string

	// RelPaths are the account relative paths to derive.
	RelPaths []string

	// PathToAddresses maps full paths to the address
	// the wallet has on record for them.
	PathToAddresses map[string]PathAddress

	// Encoding is the account's address encoding. When
	// empty it is taken from each recorded address.
	Encoding network.AddressEncoding

	cache map[string]*bip32util.Key
}

func (r *Request) cached(path string) (*bip32util.Key, bool) {
	key, ok := r.cache[path]
	return key, ok
}

func (r *Request) store(path string, key *bip32util.Key) {
	if r.cache == nil {
		r.cache = make(map[string]*bip32util.Key)
	}
	r.cache[path] = key
}

// CacheSize is the number of derived nodes held by the request.
func (r *Request) CacheSize() int {
	return len(r.cache)
}

// Release drops the request's derivation cache.
func (r *Request) Release() {
	for path, key := range r.cache {
		key.Key.Zero()
		delete(r.cache, path)
	}
}

// KeyNotFoundError is returned when no private key
// exists for a path, even after the path fix.
type KeyNotFoundError struct {
	Address string
	Path    string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("private key not found: %s %s", e.Address, e.Path)
}

// AddressMismatchError is returned when the address derived from
// a resolved key differs from the address on record.
type AddressMismatchError struct {
	Path     string
	Expected string
	Derived  string
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("address derived for %s is %s, expected %s", e.Path, e.Derived, e.Expected)
}

// PathOutsideAccountError is returned when a recorded full
// path does not sit under the request's account path.
type PathOutsideAccountError struct {
	Path        string
	AccountPath string
}

func (e *PathOutsideAccountError) Error() string {
	return fmt.Sprintf("path %s is not under account path %s", e.Path, e.AccountPath)
}
