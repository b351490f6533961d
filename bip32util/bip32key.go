package bip32util

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
)

const (
	// SerializedKeyLen is the length of a serialized
	// BIP32 key without the base58 checksum.
	SerializedKeyLen = 78

	// Offsets into the serialized key.
	versionEnd   = 4
	depthOffset  = 4
	parentOffset = 5
	childOffset  = 9
	chainOffset  = 13
	keyOffset    = 45
)

var (
	// ErrKeyPathMismatch is produced by Key.init when
	// the path doesn't match an attribute of the key.
	ErrKeyPathMismatch = errors.New("key matched with wrong path, both should equal")

	// ErrBadRootKey is produced by when the provided
	// key doesn't match the expected attributes of a _root_
	// BIP32 key.
	ErrBadRootKey = errors.New("root key must have a depth and parent fingerprint of 0")

	// ErrKeyIsAlreadyPublic is returned when a codepath
	// requests a public key be converted to a public key.
	ErrKeyIsAlreadyPublic = errors.New("key is already public")

	// ErrInvalidKeyLength is returned when a serialized
	// extended key is not 78 bytes long.
	ErrInvalidKeyLength = errors.New("extended key has invalid length")

	// ErrInvalidVersion is returned when version bytes
	// are not four bytes long.
	ErrInvalidVersion = errors.New("version bytes must be 4 bytes long")
)

// Key captures a BIP32 key, which is somewhat lossy
// in the information it includes, with the entire
// derivation path.
type Key struct {
	Key  *hdkeychain.ExtendedKey
	Path *Path
}

// NewBip32MasterKey will initialize a Key from a provided ExtendedKey and Path
func NewBip32MasterKey(key *hdkeychain.ExtendedKey) (*Key, error) {
	if key.ParentFingerprint() != 0 || key.Depth() != 0 {
		return nil, ErrBadRootKey
	}

	if key.IsPrivate() {
		return NewBip32Key(key, NewPrivatePath())
	}

	return NewBip32Key(key, NewPublicPath())
}

// NewBip32Key will initialize a Key from a provided ExtendedKey and Path
func NewBip32Key(key *hdkeychain.ExtendedKey, path *Path) (*Key, error) {
	if path.IsPrivate() != key.IsPrivate() {
		return nil, ErrKeyPathMismatch
	}

	if !path.IsRelative() && path.Depth() != int(key.Depth()) {
		return nil, ErrKeyPathMismatch
	}

	return &Key{
		Key:  key,
		Path: path,
	}, nil
}

// NewAccountKey wraps an extended key of unknown origin,
// eg, an xpub supplied by a caller. Derivations are tracked
// with a relative path.
func NewAccountKey(key *hdkeychain.ExtendedKey) *Key {
	path := &Path{fPriv: key.IsPrivate(), relative: true, Path: []uint32{}}
	return &Key{Key: key, Path: path}
}

// Child takes a sequence number and derives a child
// key. Called repetitively to derive a path.
func (k *Key) Child(sequence uint32) (*Key, error) {
	newPath, err := k.Path.Child(sequence)
	if err != nil {
		return nil, err
	}

	newKey, err := k.Key.Derive(sequence)
	if err != nil {
		return nil, err
	}

	return &Key{newKey, newPath}, nil
}

// Derive walks each component of a relative path.
func (k *Key) Derive(rel *Path) (*Key, error) {
	if !rel.IsRelative() {
		return nil, ErrPathNotRelative
	}

	key := k
	for _, sequence := range rel.Path {
		var err error
		key, err = key.Child(sequence)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive %s", rel)
		}
	}

	return key, nil
}

// IsPrivate returns true if the key is private,
// false if public.
func (k *Key) IsPrivate() bool {
	return k.Key.IsPrivate()
}

// ToPublic converts the key and it's path to
// the public form, or returns an error if the
// Key is already public.
func (k *Key) ToPublic() (*Key, error) {
	if !k.IsPrivate() {
		return nil, ErrKeyIsAlreadyPublic
	}

	key, err := k.Key.Neuter()
	if err != nil {
		return nil, err
	}

	return NewBip32Key(key, k.Path.ToPublic())
}

// Fingerprint returns the BIP32 fingerprint of the key,
// the first four bytes of hash160(pubkey).
func (k *Key) Fingerprint() (uint32, error) {
	pub, err := k.Key.ECPubKey()
	if err != nil {
		return 0, err
	}

	return PubKeyFingerprint(pub), nil
}

// PubKeyFingerprint returns the first four bytes of
// hash160(pubkey) as used by BIP32 parent fingerprints.
func PubKeyFingerprint(pub *btcec.PublicKey) uint32 {
	return binary.BigEndian.Uint32(btcutil.Hash160(pub.SerializeCompressed())[:4])
}

// DecodeKeyPayload checks the base58 checksum of an extended
// key and returns its 78 byte serialization.
func DecodeKeyPayload(key string) ([]byte, error) {
	decoded, version, err := base58.CheckDecode(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid extended key encoding")
	}

	payload := append([]byte{version}, decoded...)
	if len(payload) != SerializedKeyLen {
		return nil, ErrInvalidKeyLength
	}

	return payload, nil
}

// EncodeKeyPayload base58-check encodes a 78 byte serialization.
func EncodeKeyPayload(payload []byte) (string, error) {
	if len(payload) != SerializedKeyLen {
		return "", ErrInvalidKeyLength
	}

	return base58.CheckEncode(payload[1:], payload[0]), nil
}

// PayloadVersion returns the 4 version bytes of a serialized key.
func PayloadVersion(payload []byte) []byte {
	return payload[:versionEnd]
}

// PayloadChainCode returns the chain code of a serialized key.
func PayloadChainCode(payload []byte) []byte {
	return payload[chainOffset:keyOffset]
}

// PayloadPrivateKey returns the 32 byte private key of a serialized
// private key, skipping the 0x00 pad.
func PayloadPrivateKey(payload []byte) []byte {
	return payload[keyOffset+1:]
}

// KeyFromPayload parses a 78 byte serialization, regardless of
// whether the version bytes are registered with chaincfg.
func KeyFromPayload(payload []byte) (*hdkeychain.ExtendedKey, error) {
	encoded, err := EncodeKeyPayload(payload)
	if err != nil {
		return nil, err
	}

	return hdkeychain.NewKeyFromString(encoded)
}

// ReplaceKeyMaterial returns a copy of a serialized key carrying
// the new version bytes and key data. This is how a private
// key is re-attached to the metadata of its xpub.
func ReplaceKeyMaterial(payload []byte, version []byte, keyData []byte) ([]byte, error) {
	if len(payload) != SerializedKeyLen {
		return nil, ErrInvalidKeyLength
	}
	if len(version) != versionEnd {
		return nil, ErrInvalidVersion
	}

	out := make([]byte, SerializedKeyLen)
	copy(out, payload)
	copy(out[:versionEnd], version)

	switch len(keyData) {
	case btcec.PrivKeyBytesLen:
		out[keyOffset] = 0x00
		copy(out[keyOffset+1:], keyData)
	case btcec.PubKeyBytesLenCompressed:
		copy(out[keyOffset:], keyData)
	default:
		return nil, errors.Errorf("unexpected key length %d", len(keyData))
	}

	return out, nil
}

// NewRootKey builds a private extended key from a raw chain code
// and private key, as stored for imported accounts. Depth, parent
// fingerprint and child number are copied from the serialization.
func NewRootKey(payload []byte) (*hdkeychain.ExtendedKey, error) {
	if len(payload) != SerializedKeyLen {
		return nil, ErrInvalidKeyLength
	}
	if payload[keyOffset] != 0x00 {
		return nil, errors.New("serialized key is not private")
	}

	return hdkeychain.NewExtendedKey(
		PayloadVersion(payload),
		PayloadPrivateKey(payload),
		PayloadChainCode(payload),
		payload[parentOffset:childOffset],
		payload[depthOffset],
		binary.BigEndian.Uint32(payload[childOffset:chainOffset]),
		true,
	), nil
}

// WithVersion re-encodes an extended key with other version
// bytes, eg, turning an xpub into a zpub.
func WithVersion(key *hdkeychain.ExtendedKey, version []byte) (*hdkeychain.ExtendedKey, error) {
	if len(version) != versionEnd {
		return nil, ErrInvalidVersion
	}

	return key.CloneWithVersion(version)
}

// NeuterWithVersion converts a private extended key to the public
// key with the given version. Unlike ExtendedKey.Neuter it works
// for version bytes chaincfg has no registration for (ypub, Ltub..).
func NeuterWithVersion(key *hdkeychain.ExtendedKey, version []byte) (*hdkeychain.ExtendedKey, error) {
	if len(version) != versionEnd {
		return nil, ErrInvalidVersion
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}

	var parentFP [4]byte
	binary.BigEndian.PutUint32(parentFP[:], key.ParentFingerprint())

	return hdkeychain.NewExtendedKey(version, pub.SerializeCompressed(), key.ChainCode(),
		parentFP[:], key.Depth(), key.ChildIndex(), false), nil
}

// KeyOrigin describes where an account key sits in a
// wallet, rendered in descriptors as [fingerprint/path].
type KeyOrigin struct {
	Fingerprint uint32
	Path        *Path
}

// String returns eg `73c5da0a/86'/0'/0'`.
func (o *KeyOrigin) String() string {
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], o.Fingerprint)

	origin := hex.EncodeToString(fp[:])
	if o.Path != nil && o.Path.Depth() > 0 {
		p := o.Path.String()
		p = strings.TrimPrefix(strings.TrimPrefix(p, privatePathPrefix), publicPathPrefix)
		origin += p
	}

	return origin
}
