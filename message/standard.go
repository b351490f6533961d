package message

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

const (
	// compact signature headers are 27+recid, +4 for a
	// compressed key
	headerCompressed = 31
	headerP2SHP2WPKH = 35
	headerP2WPKH     = 39

	compactSigSize = 65
)

// ErrInvalidSignature is returned when a standard signature
// does not recover to the claimed address.
var ErrInvalidSignature = errors.New("message signature is invalid")

// MagicHash is the double sha256 of the network's message
// prefix followed by msg as a varstr.
func MagicHash(net *network.Network, msg string) []byte {
	var buf bytes.Buffer
	buf.WriteString(net.MessagePrefix)
	// writes to a bytes.Buffer don't fail
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

func headerOffset(opts SigOptions) (byte, error) {
	switch opts.SegwitType {
	case "":
		return 0, nil
	case SegwitP2SHP2WPKH:
		return headerP2SHP2WPKH - headerCompressed, nil
	case SegwitP2WPKH:
		return headerP2WPKH - headerCompressed, nil
	}
	return 0, errors.Errorf("unknown segwit type %q", opts.SegwitType)
}

// SignStandard returns the hex of the 65 byte compact signature of
// msg. opts picks the header byte; nil means DefaultSigOptions.
func SignStandard(ctx context.Context, net *network.Network, key *signer.Key, msg string,
	opts *SigOptions) (string, error) {

	if opts == nil {
		opts = &DefaultSigOptions
	}
	offset, err := headerOffset(*opts)
	if err != nil {
		return "", err
	}

	priv, err := key.PrivKey(ctx)
	if err != nil {
		return "", err
	}
	defer priv.Zero()

	sig := ecdsa.SignCompact(priv, MagicHash(net, msg), true)
	sig[0] += offset

	log.Debugf("signed %d byte message for %s", len(msg), key.Address)

	return hex.EncodeToString(sig), nil
}

// VerifyStandard recovers the key of a standard signature and
// checks it produces addr with the encoding its header claims.
func VerifyStandard(net *network.Network, addr, msg, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.Wrap(err, "invalid signature hex")
	}
	if len(sig) != compactSigSize {
		return errors.Errorf("signature has %d bytes, expected %d", len(sig), compactSigSize)
	}

	var enc network.AddressEncoding
	compact := append([]byte{}, sig...)
	switch header := sig[0]; {
	case header >= headerP2WPKH && header < headerP2WPKH+4:
		enc = network.EncodingP2WPKH
		compact[0] -= headerP2WPKH - headerCompressed
	case header >= headerP2SHP2WPKH && header < headerP2SHP2WPKH+4:
		enc = network.EncodingP2SHP2WPKH
		compact[0] -= headerP2SHP2WPKH - headerCompressed
	case header >= headerCompressed && header < headerCompressed+4:
		enc = network.EncodingP2PKH
	default:
		return errors.Errorf("unsupported signature header %d", header)
	}

	pub, _, err := ecdsa.RecoverCompact(compact, MagicHash(net, msg))
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	recovered, err := address.FromPublicKey(pub, enc, net)
	if err != nil {
		return err
	}
	if recovered.EncodeAddress() != addr {
		return ErrInvalidSignature
	}

	return nil
}
