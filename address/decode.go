package address

import (
	"github.com/btccom/btcsigncore/network"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

// Info describes a decoded address.
type Info struct {
	Address btcutil.Address

	// Encoding is empty for address kinds no account
	// encoding produces, eg P2WSH.
	Encoding network.AddressEncoding

	// Script is the output script paying to Address
	Script []byte
}

// Decode parses addr for the network and classifies it. A P2SH
// address is assumed to wrap P2WPKH on segwit networks.
func Decode(net *network.Network, addr string) (*Info, error) {
	decoded, err := btcutil.DecodeAddress(addr, net.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %s", addr)
	}
	if !decoded.IsForNet(net.Params) {
		return nil, errors.Wrapf(ErrWrongNetwork, "%s on %s", addr, net.Code)
	}

	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, err
	}

	info := &Info{Address: decoded, Script: script}
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		info.Encoding = network.EncodingP2PKH
	case *btcutil.AddressScriptHash:
		if net.SegwitEnabled {
			info.Encoding = network.EncodingP2SHP2WPKH
		}
	case *btcutil.AddressWitnessPubKeyHash:
		info.Encoding = network.EncodingP2WPKH
	case *btcutil.AddressTaproot:
		info.Encoding = network.EncodingP2TR
	}

	return info, nil
}
