package keyvault

import (
	"context"
	"sort"
	"strings"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

const (
	// importedRootPath is where an imported account's
	// root key is indexed.
	importedRootPath = ""

	taprootPurpose = 86
)

var (
	// ErrUnknownCredentials is returned for a nil or
	// foreign Credentials value.
	ErrUnknownCredentials = errors.New("unknown credentials type")

	// ErrAccountPathRequired is returned when an HD
	// request has no account path.
	ErrAccountPathRequired = errors.New("account path is required for hd credentials")

	// ErrRelPathRequired is returned when an imported account
	// entry has no relative path to look its key up by.
	ErrRelPathRequired = errors.New("relPath is required for imported keys")
)

// EncryptedKeys maps a path to a password encrypted
// 32 byte private key.
type EncryptedKeys map[string][]byte

// Vault resolves the private keys of signing requests.
type Vault struct {
	crypter Crypter
}

// New returns a Vault using crypter for all key material.
func New(crypter Crypter) *Vault {
	return &Vault{crypter: crypter}
}

// Crypter returns the crypter keys are encrypted with.
func (v *Vault) Crypter() Crypter {
	return v.crypter
}

// PrivateKeys derives the request's keys. HD keys are indexed by
// full path. Imported accounts index the encrypted root under ""
// and each derived leaf under its relative path.
func (v *Vault) PrivateKeys(ctx context.Context, req *Request) (EncryptedKeys, error) {
	switch creds := req.Credentials.(type) {
	case *HDCredentials:
		return v.hdPrivateKeys(ctx, req, creds)
	case *ImportedCredentials:
		return v.importedPrivateKeys(ctx, req, creds)
	}

	return nil, ErrUnknownCredentials
}

// masterKey turns the HD entropy into the BIP32 master key.
func (v *Vault) masterKey(ctx context.Context, req *Request, creds *HDCredentials) (*bip32util.Key, error) {
	entropy, err := v.crypter.Decrypt(ctx, req.Password, creds.EncryptedEntropy)
	if err != nil {
		return nil, err
	}
	defer zero(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "invalid entropy")
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer zero(seed)

	master, err := hdkeychain.NewMaster(seed, req.Network.Params)
	if err != nil {
		return nil, err
	}

	return bip32util.NewBip32MasterKey(master)
}

// accountKey derives the HD account key, caching it
// on the request under its path.
func (v *Vault) accountKey(ctx context.Context, req *Request, creds *HDCredentials) (*bip32util.Key, error) {
	if req.AccountPath == "" {
		return nil, ErrAccountPathRequired
	}

	accountPath, err := bip32util.NewPathFromString(req.AccountPath)
	if err != nil {
		return nil, err
	}
	if key, ok := req.cached(accountPath.String()); ok {
		return key, nil
	}

	master, err := v.masterKey(ctx, req, creds)
	if err != nil {
		return nil, err
	}
	if accountPath.Depth() > 0 {
		defer master.Key.Zero()
	}

	key := master
	for _, sequence := range accountPath.Path {
		key, err = key.Child(sequence)
		if err != nil {
			return nil, err
		}
	}

	req.store(accountPath.String(), key)
	return key, nil
}

func (v *Vault) hdPrivateKeys(ctx context.Context, req *Request, creds *HDCredentials) (EncryptedKeys, error) {
	account, err := v.accountKey(ctx, req, creds)
	if err != nil {
		return nil, err
	}

	keys := make(EncryptedKeys, len(req.RelPaths))
	for _, relPath := range req.RelPaths {
		rel, err := bip32util.NewRelativePath(relPath)
		if err != nil {
			return nil, err
		}

		child, err := account.Derive(rel)
		if err != nil {
			return nil, err
		}

		encrypted, err := v.encryptLeaf(ctx, req.Password, child)
		child.Key.Zero()
		if err != nil {
			return nil, err
		}
		keys[child.Path.String()] = encrypted
	}

	log.Debugf("Derived %d hd keys under %s", len(keys), account.Path)
	return keys, nil
}

// encryptLeaf encrypts the raw private key of a derived node.
func (v *Vault) encryptLeaf(ctx context.Context, password string, key *bip32util.Key) ([]byte, error) {
	priv, err := key.Key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	raw := priv.Serialize()
	defer zero(raw)
	defer priv.Zero()

	return v.crypter.Encrypt(ctx, password, raw)
}

// importedRoot decrypts the imported xprv into a root node.
func (v *Vault) importedRoot(ctx context.Context, req *Request, creds *ImportedCredentials) (*bip32util.Key, error) {
	if key, ok := req.cached(importedRootPath); ok {
		return key, nil
	}

	payload, err := v.crypter.Decrypt(ctx, req.Password, creds.EncryptedXprv)
	if err != nil {
		return nil, err
	}

	root, err := bip32util.NewRootKey(payload)
	if err != nil {
		return nil, err
	}

	key := bip32util.NewAccountKey(root)
	req.store(importedRootPath, key)
	return key, nil
}

func (v *Vault) importedPrivateKeys(ctx context.Context, req *Request, creds *ImportedCredentials) (EncryptedKeys, error) {
	root, err := v.importedRoot(ctx, req, creds)
	if err != nil {
		return nil, err
	}

	keys := EncryptedKeys{importedRootPath: creds.EncryptedXprv}
	for _, relPath := range req.RelPaths {
		leaf, err := deriveCached(req, root, relPath)
		if err != nil {
			return nil, err
		}

		encrypted, err := v.encryptLeaf(ctx, req.Password, leaf)
		if err != nil {
			return nil, err
		}
		keys[relPath] = encrypted
	}

	log.Debugf("Derived %d imported keys, %d cached nodes", len(req.RelPaths), req.CacheSize())
	return keys, nil
}

// deriveCached walks relPath from root one component at a time.
// Every intermediate node is cached by its path prefix, so shared
// prefixes are derived once per request.
func deriveCached(req *Request, root *bip32util.Key, relPath string) (*bip32util.Key, error) {
	if relPath == "" {
		return root, nil
	}

	parent := root
	prefix := ""
	for _, component := range strings.Split(relPath, "/") {
		if prefix == "" {
			prefix = component
		} else {
			prefix = prefix + "/" + component
		}

		if node, ok := req.cached(prefix); ok {
			parent = node
			continue
		}

		sequence, err := bip32util.SequenceFromSegment(component)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid path %s", relPath)
		}

		node, err := parent.Child(sequence)
		if err != nil {
			return nil, err
		}
		req.store(prefix, node)
		parent = node
	}

	return parent, nil
}

// PrivateKeysInFullPath resolves one key per entry of
// req.PathToAddresses and checks each against the address
// on record.
func (v *Vault) PrivateKeysInFullPath(ctx context.Context, req *Request) (EncryptedKeys, error) {
	keys, err := v.PrivateKeys(ctx, req)
	if err != nil {
		return nil, err
	}

	return v.ResolveKeys(ctx, req, keys)
}

// ResolveKeys picks the key of every recorded full path out of
// keys. HD paths must sit under the account path. On networks with
// the path fix, a taproot path outside it is retried with its
// sibling coin type.
func (v *Vault) ResolveKeys(ctx context.Context, req *Request, keys EncryptedKeys) (EncryptedKeys, error) {
	_, imported := req.Credentials.(*ImportedCredentials)

	var account *bip32util.Path
	if !imported {
		if req.AccountPath == "" {
			return nil, ErrAccountPathRequired
		}
		var err error
		account, err = bip32util.NewPathFromString(req.AccountPath)
		if err != nil {
			return nil, err
		}
	}

	fullPaths := make([]string, 0, len(req.PathToAddresses))
	for fullPath := range req.PathToAddresses {
		fullPaths = append(fullPaths, fullPath)
	}
	sort.Strings(fullPaths)

	resolved := make(EncryptedKeys, len(fullPaths))
	for _, fullPath := range fullPaths {
		record := req.PathToAddresses[fullPath]

		var lookup string
		if imported {
			// the root entry holds the encrypted xprv, not a leaf key
			if record.RelPath == importedRootPath {
				return nil, errors.Wrap(ErrRelPathRequired, fullPath)
			}
			lookup = record.RelPath
		} else {
			var err error
			lookup, err = accountLookupPath(req, account, fullPath)
			if err != nil {
				return nil, err
			}
		}

		key, ok := keys[lookup]
		if !ok {
			return nil, &KeyNotFoundError{Address: record.Address, Path: fullPath}
		}

		if err := v.checkAddress(ctx, req, fullPath, record.Address, key); err != nil {
			return nil, err
		}

		resolved[fullPath] = key
	}

	return resolved, nil
}

// accountLookupPath re-serializes fullPath as the private path
// hdPrivateKeys stores its key under, falling back to the sibling
// coin type when the path fix applies.
func accountLookupPath(req *Request, account *bip32util.Path, fullPath string) (string, error) {
	path, err := bip32util.NewPathFromString(fullPath)
	if err != nil {
		return "", err
	}
	path = path.ToPrivate()

	if account.IsContainedIn(path) {
		return path.String(), nil
	}

	if req.Network.PathFixEnabled {
		if sibling, ok := siblingCoinTypePath(path.String()); ok {
			siblingPath, err := bip32util.NewPathFromString(sibling)
			if err == nil && account.IsContainedIn(siblingPath) {
				log.Debugf("Resolved %s through sibling path %s", fullPath, sibling)
				return sibling, nil
			}
		}
	}

	return "", &PathOutsideAccountError{Path: fullPath, AccountPath: req.AccountPath}
}

// checkAddress derives the address of an encrypted key
// and compares it with the recorded one.
func (v *Vault) checkAddress(ctx context.Context, req *Request, fullPath string, expected string, encrypted []byte) error {
	enc := req.Encoding
	if enc == "" {
		info, err := address.Decode(req.Network, expected)
		if err != nil {
			return err
		}
		enc = info.Encoding
	}
	if enc == "" {
		return &AddressMismatchError{Path: fullPath, Expected: expected}
	}

	raw, err := v.crypter.Decrypt(ctx, req.Password, encrypted)
	if err != nil {
		return err
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	zero(raw)
	priv.Zero()

	derived, err := address.FromPublicKey(pub, enc, req.Network)
	if err != nil {
		return err
	}

	if derived.EncodeAddress() != expected {
		return &AddressMismatchError{Path: fullPath, Expected: expected, Derived: derived.EncodeAddress()}
	}

	return nil
}

// siblingCoinTypePath maps m/86'/0'/.. to m/86'/1'/.. and back.
func siblingCoinTypePath(fullPath string) (string, bool) {
	path, err := bip32util.NewPathFromString(fullPath)
	if err != nil {
		return "", false
	}

	purpose, err := path.Purpose()
	if err != nil || purpose != taprootPurpose {
		return "", false
	}

	coinType, err := path.CoinType()
	if err != nil || coinType > 1 {
		return "", false
	}

	sibling, err := path.WithCoinType(1 - coinType)
	if err != nil {
		return "", false
	}

	return sibling.String(), true
}

// AddressForPath derives the address of an HD or imported key
// at relPath, used when registering addresses for a request.
func (v *Vault) AddressForPath(ctx context.Context, req *Request, relPath string, enc network.AddressEncoding) (string, error) {
	var (
		leaf *bip32util.Key
		err  error
	)

	switch creds := req.Credentials.(type) {
	case *HDCredentials:
		var account *bip32util.Key
		account, err = v.accountKey(ctx, req, creds)
		if err != nil {
			return "", err
		}
		var rel *bip32util.Path
		rel, err = bip32util.NewRelativePath(relPath)
		if err != nil {
			return "", err
		}
		leaf, err = account.Derive(rel)
	case *ImportedCredentials:
		var root *bip32util.Key
		root, err = v.importedRoot(ctx, req, creds)
		if err != nil {
			return "", err
		}
		leaf, err = deriveCached(req, root, relPath)
	default:
		return "", ErrUnknownCredentials
	}
	if err != nil {
		return "", err
	}

	pub, err := leaf.Key.ECPubKey()
	if err != nil {
		return "", err
	}

	addr, err := address.FromPublicKey(pub, enc, req.Network)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}
