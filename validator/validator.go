// Package validator checks user supplied extended keys
// and addresses before they reach the signing code.
package validator

import (
	"regexp"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidPrefix is returned when a key's base58
	// prefix is wrong for the network.
	ErrInvalidPrefix = errors.New("Invalid extended key prefix for network")

	// ErrExpectedPrivateKey is returned when an xpub
	// is passed where an xprv is required.
	ErrExpectedPrivateKey = errors.New("extended private key is required")
)

type prefixes struct {
	public  *regexp.Regexp
	private *regexp.Regexp
}

var (
	mainnetPrefixes = &prefixes{
		public:  regexp.MustCompile(`^[xyz]pub`),
		private: regexp.MustCompile(`^[xyz]prv`),
	}
	testnetPrefixes = &prefixes{
		public:  regexp.MustCompile(`^[tuv]pub`),
		private: regexp.MustCompile(`^[tuv]prv`),
	}
)

// prefixesFor returns nil for forks whose keys are
// checked by version bytes only.
func prefixesFor(net *network.Network) *prefixes {
	switch net.Code {
	case network.NetBtc:
		return mainnetPrefixes
	case network.NetBtcTest, network.NetBtcSignet:
		return testnetPrefixes
	}
	return nil
}

// ValidateXpub checks the prefix, checksum, length, version bytes
// and key material of an extended public key. The encoding implied
// by its version bytes is returned.
func ValidateXpub(net *network.Network, xpub string) (network.AddressEncoding, error) {
	if p := prefixesFor(net); p != nil && !p.public.MatchString(xpub) {
		return "", ErrInvalidPrefix
	}

	_, enc, err := address.ParseXpub(net, xpub)
	if err != nil {
		return "", err
	}

	return enc, nil
}

// ValidateXprv is ValidateXpub for extended private keys.
func ValidateXprv(net *network.Network, xprv string) (network.AddressEncoding, error) {
	if p := prefixesFor(net); p != nil && !p.private.MatchString(xprv) {
		return "", ErrInvalidPrefix
	}

	payload, err := bip32util.DecodeKeyPayload(xprv)
	if err != nil {
		return "", err
	}

	enc, private, err := net.EncodingFromVersion(bip32util.PayloadVersion(payload))
	if err != nil {
		return "", err
	}
	if !private {
		return "", ErrExpectedPrivateKey
	}

	if _, err := bip32util.NewRootKey(payload); err != nil {
		return "", err
	}
	if _, err := bip32util.KeyFromPayload(payload); err != nil {
		return "", errors.Wrap(err, "invalid extended private key")
	}

	return enc, nil
}

// ValidateAddress decodes addr for the network and classifies it.
func ValidateAddress(net *network.Network, addr string) (*address.Info, error) {
	return address.Decode(net, addr)
}
