package message

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/psbtsign"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

var bip322Tag = []byte("BIP0322-signed-message")

// bip322Encodings are the encodings BIP-322 simple signs for.
var bip322Encodings = []network.AddressEncoding{
	network.EncodingP2WPKH,
	network.EncodingP2TR,
}

// BIP322Hash is the tagged hash committed to by to_spend.
func BIP322Hash(msg string) []byte {
	return chainhash.TaggedHash(bip322Tag, []byte(msg))[:]
}

// CheckBIP322Address decodes addr and fails with an
// *UnsupportedSignMethodError unless BIP-322 simple can sign for it.
func CheckBIP322Address(net *network.Network, addr string) (*address.Info, error) {
	info, err := address.Decode(net, addr)
	if err != nil {
		return nil, err
	}

	for _, enc := range bip322Encodings {
		if info.Encoding == enc {
			return info, nil
		}
	}

	return nil, &UnsupportedSignMethodError{
		Address:   addr,
		Method:    TypeBIP322Simple,
		Supported: bip322Encodings,
	}
}

// toSpend is the virtual transaction whose only output the
// signature spends.
func toSpend(pkScript []byte, msg string) (*wire.MsgTx, error) {
	sigScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(BIP322Hash(msg)).
		Script()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(0)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  sigScript,
		Sequence:         0,
	})
	tx.AddTxOut(wire.NewTxOut(0, pkScript))

	return tx, nil
}

// toSign spends to_spend to a single OP_RETURN output.
func toSign(spend *wire.MsgTx) (*psbt.Packet, error) {
	tx := wire.NewMsgTx(0)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: spend.TxHash(), Index: 0},
		Sequence:         0,
	})
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	p.Inputs[0].WitnessUtxo = spend.TxOut[0]

	return p, nil
}

// SignBIP322Simple signs msg for the account's address and returns
// the hex of the serialized to_sign witness. Addresses other than
// P2WPKH and P2TR fail before any key is touched.
func SignBIP322Simple(ctx context.Context, engine *psbtsign.Engine, account *signer.Account,
	msg string) (string, error) {

	net := engine.Network()
	info, err := CheckBIP322Address(net, account.Address)
	if err != nil {
		return "", err
	}

	spend, err := toSpend(info.Script, msg)
	if err != nil {
		return "", err
	}
	p, err := toSign(spend)
	if err != nil {
		return "", err
	}

	inputs, err := psbtsign.InputsToSignFromPsbt(p, account, net)
	if err != nil {
		return "", err
	}
	if len(inputs) != 1 {
		return "", errors.Errorf("to_sign does not spend %s", account.Address)
	}
	if err := engine.SignInputs(ctx, p, inputs); err != nil {
		return "", err
	}

	if err := psbt.Finalize(p, 0); err != nil {
		return "", errors.Wrap(err, "failed to finalize to_sign")
	}
	tx, err := psbt.Extract(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to extract to_sign")
	}

	var buf bytes.Buffer
	if err := writeWitness(&buf, tx.TxIn[0].Witness); err != nil {
		return "", err
	}

	log.Debugf("signed BIP-322 message for %s", account.Address)

	return hex.EncodeToString(buf.Bytes()), nil
}

// VerifyBIP322Simple runs the script interpreter over to_sign
// with the signature's witness.
func VerifyBIP322Simple(net *network.Network, addr, msg, sigHex string) error {
	info, err := CheckBIP322Address(net, addr)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.Wrap(err, "invalid signature hex")
	}
	witness, err := readWitness(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	spend, err := toSpend(info.Script, msg)
	if err != nil {
		return err
	}
	p, err := toSign(spend)
	if err != nil {
		return err
	}

	tx := p.UnsignedTx
	tx.TxIn[0].Witness = witness

	prevOut := spend.TxOut[0]
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	vm, err := txscript.NewEngine(prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher)
	if err != nil {
		return err
	}
	if err := vm.Execute(); err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	return nil
}

func writeWitness(buf *bytes.Buffer, witness wire.TxWitness) error {
	if err := wire.WriteVarInt(buf, 0, uint64(len(witness))); err != nil {
		return err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(buf, 0, item); err != nil {
			return err
		}
	}
	return nil
}

func readWitness(r *bytes.Reader) (wire.TxWitness, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.Wrap(err, "invalid witness")
	}
	if count > uint64(r.Len()) {
		return nil, errors.Errorf("witness claims %d items", count)
	}

	witness := make(wire.TxWitness, count)
	for i := range witness {
		item, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness item")
		if err != nil {
			return nil, errors.Wrap(err, "invalid witness")
		}
		witness[i] = item
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after witness")
	}

	return witness, nil
}
