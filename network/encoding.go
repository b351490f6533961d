package network

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AddressEncoding is the script template an account's
// addresses are built with.
type AddressEncoding string

const (
	// EncodingP2PKH is the legacy pay-to-pubkey-hash template
	EncodingP2PKH AddressEncoding = "P2PKH"

	// EncodingP2SHP2WPKH is P2WPKH nested in P2SH
	EncodingP2SHP2WPKH AddressEncoding = "P2SH_P2WPKH"

	// EncodingP2WPKH is native segwit v0
	EncodingP2WPKH AddressEncoding = "P2WPKH"

	// EncodingP2TR is a BIP86 taproot output with no script tree
	EncodingP2TR AddressEncoding = "P2TR"
)

// encodingOrder fixes lookup order. xpub is shared by P2PKH
// and P2TR, so P2PKH must win when inferring from version bytes.
var encodingOrder = []AddressEncoding{
	EncodingP2PKH,
	EncodingP2SHP2WPKH,
	EncodingP2WPKH,
	EncodingP2TR,
}

// ErrUnknownEncoding is returned by ParseEncoding.
var ErrUnknownEncoding = errors.New("Unknown address encoding")

// ParseEncoding accepts the encoding names case-insensitively,
// also allowing `-` in place of `_`.
func ParseEncoding(s string) (AddressEncoding, error) {
	normalized := AddressEncoding(strings.ReplaceAll(strings.ToUpper(s), "-", "_"))
	for _, enc := range encodingOrder {
		if enc == normalized {
			return enc, nil
		}
	}

	return "", errors.Wrapf(ErrUnknownEncoding, "%q", s)
}

// IsSegwit is true for encodings spending through the witness.
func (e AddressEncoding) IsSegwit() bool {
	return e == EncodingP2SHP2WPKH || e == EncodingP2WPKH || e == EncodingP2TR
}

// VersionBytes are the BIP32 serialization prefixes of an encoding.
type VersionBytes struct {
	Public  [4]byte
	Private [4]byte
}

func newVersionBytes(public, private uint32) VersionBytes {
	var v VersionBytes
	binary.BigEndian.PutUint32(v.Public[:], public)
	binary.BigEndian.PutUint32(v.Private[:], private)
	return v
}

// UnsupportedEncodingError is returned when a fork has no
// script template for the requested encoding.
type UnsupportedEncodingError struct {
	Network  string
	Encoding AddressEncoding
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("address encoding %s is not supported on %s", e.Encoding, e.Network)
}
