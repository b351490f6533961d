// Package psbtsign assembles PSBTs from encoded transactions and
// drives their signing, finalization and extraction.
package psbtsign

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

const defaultTxVersion = 2

var (
	// ErrNoInputs is returned when building a transaction
	// without inputs.
	ErrNoInputs = errors.New("transaction has no inputs")

	// ErrNoOutputs is returned when building a transaction
	// without outputs.
	ErrNoOutputs = errors.New("transaction has no outputs")
)

// TxInput spends a previous output owned by Address.
type TxInput struct {
	Txid     string  `json:"txid"`
	Vout     uint32  `json:"vout"`
	Value    int64   `json:"value"`
	Address  string  `json:"address"`
	Sequence *uint32 `json:"sequence,omitempty"`
}

// TxOutput pays Value to Address, or to Script (hex)
// when set, eg for OP_RETURN outputs.
type TxOutput struct {
	Address string `json:"address,omitempty"`
	Script  string `json:"script,omitempty"`
	Value   int64  `json:"value"`
}

// InputToSign declares one input the caller wants signed.
type InputToSign struct {
	Index     int    `json:"index"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`

	// SighashTypes are the types the input may be signed
	// with. Empty allows only the network default.
	SighashTypes []txscript.SigHashType `json:"sighashTypes,omitempty"`

	DisableTweakSigner bool  `json:"disableTweakSigner,omitempty"`
	UseTweakedSigner   *bool `json:"useTweakedSigner,omitempty"`
}

func (i *InputToSign) tweakOverride() signer.TweakOverride {
	return signer.TweakOverride{
		Disable: i.DisableTweakSigner,
		Force:   i.UseTweakedSigner,
	}
}

// EncodedTx is a chain agnostic transaction. A set PsbtHex
// means the transaction was supplied as a PSBT by a third
// party and InputsToSign says which inputs are ours.
type EncodedTx struct {
	Inputs       []TxInput     `json:"inputs"`
	Outputs      []TxOutput    `json:"outputs"`
	Version      int32         `json:"version,omitempty"`
	LockTime     uint32        `json:"lockTime,omitempty"`
	PsbtHex      string        `json:"psbtHex,omitempty"`
	InputsToSign []InputToSign `json:"inputsToSign,omitempty"`
}

// PubKeyLookup returns the public key behind an address.
type PubKeyLookup func(ctx context.Context, address string) (*btcec.PublicKey, error)

// builtInput is an input whose address and key are resolved.
type builtInput struct {
	info *address.Info
	pub  *btcec.PublicKey
}

// Build assembles the unsigned PSBT of tx. prevTxs maps txids to
// raw transactions and is only consulted for P2PKH inputs, which
// carry the full previous transaction. Every input is resolved
// before the packet is built: nothing is returned on failure.
func Build(ctx context.Context, net *network.Network, tx *EncodedTx, prevTxs map[string]string,
	lookup PubKeyLookup) (*psbt.Packet, error) {

	if len(tx.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return nil, ErrNoOutputs
	}

	version := tx.Version
	if version == 0 {
		version = defaultTxVersion
	}
	msgTx := wire.NewMsgTx(version)
	msgTx.LockTime = tx.LockTime

	inputs := make([]*builtInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		resolved, err := resolveInput(ctx, net, in, lookup)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		inputs[i] = resolved

		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d has invalid txid", i)
		}

		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil)
		if in.Sequence != nil {
			txIn.Sequence = *in.Sequence
		}
		msgTx.AddTxIn(txIn)
	}

	for i, out := range tx.Outputs {
		script, err := outputScript(net, out)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		msgTx.AddTxOut(wire.NewTxOut(out.Value, script))
	}

	p, err := psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create psbt")
	}

	for i, in := range tx.Inputs {
		if err := fillInput(&p.Inputs[i], in, inputs[i], prevTxs); err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
	}

	log.Debugf("built %s psbt with %d inputs and %d outputs",
		net.Code, len(msgTx.TxIn), len(msgTx.TxOut))

	return p, nil
}

// resolveInput decodes the input's address and checks the looked
// up key actually produces it.
func resolveInput(ctx context.Context, net *network.Network, in TxInput,
	lookup PubKeyLookup) (*builtInput, error) {

	info, err := address.Decode(net, in.Address)
	if err != nil {
		return nil, err
	}
	if info.Encoding == "" {
		return nil, errors.Errorf("address %s cannot be signed for", in.Address)
	}

	pub, err := lookup(ctx, in.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "no public key for %s", in.Address)
	}

	derived, err := address.FromPublicKey(pub, info.Encoding, net)
	if err != nil {
		return nil, err
	}
	if derived.EncodeAddress() != info.Address.EncodeAddress() {
		return nil, errors.Errorf("public key %x does not match address %s",
			pub.SerializeCompressed(), in.Address)
	}

	return &builtInput{info: info, pub: pub}, nil
}

func outputScript(net *network.Network, out TxOutput) ([]byte, error) {
	if out.Script != "" {
		return hex.DecodeString(out.Script)
	}

	info, err := address.Decode(net, out.Address)
	if err != nil {
		return nil, err
	}
	return info.Script, nil
}

// fillInput sets the utxo and script fields the input's
// encoding needs to be signed and finalized.
func fillInput(pIn *psbt.PInput, in TxInput, resolved *builtInput, prevTxs map[string]string) error {
	switch resolved.info.Encoding {
	case network.EncodingP2PKH:
		prevTx, err := previousTx(in, resolved.info.Script, prevTxs)
		if err != nil {
			return err
		}
		pIn.NonWitnessUtxo = prevTx

	case network.EncodingP2WPKH:
		pIn.WitnessUtxo = wire.NewTxOut(in.Value, resolved.info.Script)

	case network.EncodingP2SHP2WPKH:
		redeemScript, err := address.P2WPKHScript(resolved.pub)
		if err != nil {
			return err
		}
		pIn.WitnessUtxo = wire.NewTxOut(in.Value, resolved.info.Script)
		pIn.RedeemScript = redeemScript

	case network.EncodingP2TR:
		pIn.WitnessUtxo = wire.NewTxOut(in.Value, resolved.info.Script)
		pIn.TaprootInternalKey = schnorr.SerializePubKey(resolved.pub)

	default:
		return errors.Errorf("unsupported input encoding %s", resolved.info.Encoding)
	}

	return nil
}

// previousTx decodes the transaction an input spends and
// checks it pays script at the spent index.
func previousTx(in TxInput, script []byte, prevTxs map[string]string) (*wire.MsgTx, error) {
	rawHex, ok := prevTxs[in.Txid]
	if !ok {
		return nil, errors.Errorf("previous transaction %s is required", in.Txid)
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid previous transaction %s", in.Txid)
	}

	prevTx := &wire.MsgTx{}
	if err := prevTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrapf(err, "invalid previous transaction %s", in.Txid)
	}

	if prevTx.TxHash().String() != in.Txid {
		return nil, errors.Errorf("previous transaction hashes to %s, expected %s",
			prevTx.TxHash(), in.Txid)
	}
	if int(in.Vout) >= len(prevTx.TxOut) {
		return nil, errors.Errorf("previous transaction %s has no output %d", in.Txid, in.Vout)
	}
	if !bytes.Equal(prevTx.TxOut[in.Vout].PkScript, script) {
		return nil, errors.Errorf("output %s:%d does not pay %x", in.Txid, in.Vout, script)
	}

	return prevTx, nil
}
