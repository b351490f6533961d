// Package message signs arbitrary messages with account keys, either
// with the standard compact ECDSA scheme or with BIP-322 "simple".
package message

import (
	"fmt"
	"strings"

	"github.com/btccom/btcsigncore/network"
	"github.com/pkg/errors"
)

// Type selects the message signing scheme.
type Type string

const (
	// TypeECDSA is the standard compact recoverable signature
	// over the network's magic hash.
	TypeECDSA Type = "ecdsa"

	// TypeBIP322Simple is the witness stack of a BIP-322
	// to_sign transaction.
	TypeBIP322Simple Type = "bip322-simple"
)

// ErrUnknownType is returned by ParseType.
var ErrUnknownType = errors.New("Unknown message type")

// ParseType reads a message type, defaulting to TypeECDSA.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(s)) {
	case "", TypeECDSA:
		return TypeECDSA, nil
	case TypeBIP322Simple:
		return TypeBIP322Simple, nil
	}
	return "", errors.Wrapf(ErrUnknownType, "%q", s)
}

// Segwit hints for the header byte of standard signatures.
const (
	SegwitP2WPKH     = "p2wpkh"
	SegwitP2SHP2WPKH = "p2sh(p2wpkh)"
)

// SigOptions tune standard message signatures. An empty
// SegwitType produces a legacy signature.
type SigOptions struct {
	SegwitType string `json:"segwitType,omitempty"`
}

// DefaultSigOptions are used when the caller gives none.
var DefaultSigOptions = SigOptions{SegwitType: SegwitP2WPKH}

// UnsupportedSignMethodError is returned when an address
// cannot be signed for with the requested scheme.
type UnsupportedSignMethodError struct {
	Address   string
	Method    Type
	Supported []network.AddressEncoding
}

func (e *UnsupportedSignMethodError) Error() string {
	supported := make([]string, len(e.Supported))
	for i, enc := range e.Supported {
		supported[i] = string(enc)
	}
	return fmt.Sprintf("address %s does not support %s, supported: %s",
		e.Address, e.Method, strings.Join(supported, ", "))
}
