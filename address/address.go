// Package address derives and classifies addresses of
// bitcoin family networks.
package address

import (
	"encoding/hex"
	"fmt"

	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

var (
	// ErrExpectedPublicKey is returned when an xprv
	// is passed where an xpub is required.
	ErrExpectedPublicKey = errors.New("extended public key is required")

	// ErrWrongNetwork is returned when an address
	// decodes for another network.
	ErrWrongNetwork = errors.New("address is not for this network")
)

// XpubAddresses is the result of deriving addresses
// from an extended public key.
type XpubAddresses struct {
	// Addresses maps each relative path to its address
	Addresses map[string]string `json:"addresses"`

	// PublicKeys maps each relative path to the
	// hex compressed public key
	PublicKeys map[string]string `json:"publicKeys"`

	Xpub       string                  `json:"xpub"`
	XpubSegwit string                  `json:"xpubSegwit"`
	Encoding   network.AddressEncoding `json:"addressEncoding"`
}

// ParseXpub checks an extended public key's checksum and version
// bytes against net, returning the key and the encoding its version
// bytes imply.
func ParseXpub(net *network.Network, xpub string) (*hdkeychain.ExtendedKey, network.AddressEncoding, error) {
	payload, err := bip32util.DecodeKeyPayload(xpub)
	if err != nil {
		return nil, "", err
	}

	enc, private, err := net.EncodingFromVersion(bip32util.PayloadVersion(payload))
	if err != nil {
		return nil, "", err
	}
	if private {
		return nil, "", ErrExpectedPublicKey
	}

	key, err := bip32util.KeyFromPayload(payload)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid extended public key")
	}

	return key, enc, nil
}

// FromXpub derives the address of every relative path for the
// requested encoding. An empty encoding is inferred from the
// xpub version bytes.
func FromXpub(net *network.Network, xpub string, relPaths []string, enc network.AddressEncoding) (*XpubAddresses, error) {
	key, inferred, err := ParseXpub(net, xpub)
	if err != nil {
		return nil, err
	}

	if enc == "" {
		enc = inferred
	}
	if err := net.SupportsEncoding(enc); err != nil {
		return nil, err
	}

	account := bip32util.NewAccountKey(key)
	result := &XpubAddresses{
		Addresses:  make(map[string]string, len(relPaths)),
		PublicKeys: make(map[string]string, len(relPaths)),
		Xpub:       xpub,
		Encoding:   enc,
	}

	for _, relPath := range relPaths {
		pub, err := derivePublicKey(account, relPath)
		if err != nil {
			return nil, err
		}

		addr, err := FromPublicKey(pub, enc, net)
		if err != nil {
			return nil, err
		}

		result.Addresses[relPath] = addr.EncodeAddress()
		result.PublicKeys[relPath] = hex.EncodeToString(pub.SerializeCompressed())
	}

	result.XpubSegwit, err = XpubSegwit(net, key, enc, nil)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// PublicKeyFromXpub returns the hex compressed public key at relPath.
func PublicKeyFromXpub(net *network.Network, xpub string, relPath string) (string, error) {
	key, _, err := ParseXpub(net, xpub)
	if err != nil {
		return "", err
	}

	pub, err := derivePublicKey(bip32util.NewAccountKey(key), relPath)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

func derivePublicKey(account *bip32util.Key, relPath string) (*btcec.PublicKey, error) {
	rel, err := bip32util.NewRelativePath(relPath)
	if err != nil {
		return nil, err
	}

	child, err := account.Derive(rel)
	if err != nil {
		return nil, err
	}

	return child.Key.ECPubKey()
}

// FromPublicKey projects a public key through the
// encoding's script template.
func FromPublicKey(pub *btcec.PublicKey, enc network.AddressEncoding, net *network.Network) (btcutil.Address, error) {
	if err := net.SupportsEncoding(enc); err != nil {
		return nil, err
	}

	params := net.Params
	switch enc {
	case network.EncodingP2PKH:
		return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)

	case network.EncodingP2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)

	case network.EncodingP2SHP2WPKH:
		redeemScript, err := P2WPKHScript(pub)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeemScript, params)

	case network.EncodingP2TR:
		outputKey := txscript.ComputeTaprootKeyNoScript(pub)
		return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
	}

	return nil, &network.UnsupportedEncodingError{Network: net.Code, Encoding: enc}
}

// P2WPKHScript returns `OP_0 <hash160(pub)>`, which is also
// the redeem script of a nested P2SH-P2WPKH output.
func P2WPKHScript(pub *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		Script()
}

// XpubSegwit returns the representation of an account key used by
// descriptor aware wallets: ypub/zpub for segwit v0, a tr()
// descriptor for taproot, the xpub itself otherwise.
func XpubSegwit(net *network.Network, key *hdkeychain.ExtendedKey, enc network.AddressEncoding,
	origin *bip32util.KeyOrigin) (string, error) {

	versions, err := net.VersionBytes(enc)
	if err != nil {
		return "", err
	}

	switch enc {
	case network.EncodingP2SHP2WPKH, network.EncodingP2WPKH:
		segwitKey, err := bip32util.WithVersion(key, versions.Public[:])
		if err != nil {
			return "", err
		}
		return segwitKey.String(), nil

	case network.EncodingP2TR:
		xpubKey, err := bip32util.WithVersion(key, versions.Public[:])
		if err != nil {
			return "", err
		}
		if origin == nil {
			return fmt.Sprintf("tr(%s/<0;1>/*)", xpubKey.String()), nil
		}
		return fmt.Sprintf("tr([%s]%s/<0;1>/*)", origin.String(), xpubKey.String()), nil
	}

	return key.String(), nil
}
