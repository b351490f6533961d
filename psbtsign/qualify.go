package psbtsign

import (
	"bytes"

	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/sighash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// qualifiedScript follows an input from the scriptPubKey it
// spends to the script that is actually signed. If an rs is
// present, it has been qualified against the spk. If a ws is
// present, it was qualified against the spk or rs. By solving
// this structure, we also learn sigVersion.
type qualifiedScript struct {
	spk        []byte
	rs         []byte
	ws         []byte
	sign       []byte
	sigVersion sighash.SigVersion
}

// isSegwit returns whether the sign script is
// reached through a witness program.
func (q *qualifiedScript) isSegwit() bool {
	return q.sigVersion != sighash.SigVersionBase
}

// prevOutput returns the output spent by input idx, taken
// from the witness utxo or the full previous transaction.
func prevOutput(p *psbt.Packet, idx int) (*wire.TxOut, error) {
	in := &p.Inputs[idx]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}

	if in.NonWitnessUtxo == nil {
		return nil, errors.Errorf("input %d has no utxo", idx)
	}

	outPoint := p.UnsignedTx.TxIn[idx].PreviousOutPoint
	if in.NonWitnessUtxo.TxHash() != outPoint.Hash {
		return nil, errors.Errorf("non witness utxo of input %d is not the spent transaction", idx)
	}
	if int(outPoint.Index) >= len(in.NonWitnessUtxo.TxOut) {
		return nil, errors.Errorf("non witness utxo of input %d has no output %d", idx, outPoint.Index)
	}

	return in.NonWitnessUtxo.TxOut[outPoint.Index], nil
}

// prevOutFetcher indexes every input's previous output. Inputs
// without utxo information get an empty placeholder so sighash
// midstates can still be computed; missing counts them.
func prevOutFetcher(p *psbt.Packet) (fetcher *txscript.MultiPrevOutFetcher, missing int) {
	fetcher = txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range p.UnsignedTx.TxIn {
		prevOut, err := prevOutput(p, i)
		if err != nil {
			missing++
			prevOut = wire.NewTxOut(0, nil)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOut)
	}

	return fetcher, missing
}

// qualifyInput checks the redeem and witness scripts of input idx
// against the output it spends and returns what must be signed.
func qualifyInput(net *network.Network, p *psbt.Packet, idx int) (*qualifiedScript, error) {
	prevOut, err := prevOutput(p, idx)
	if err != nil {
		return nil, err
	}
	in := &p.Inputs[idx]

	q := &qualifiedScript{
		spk:        prevOut.PkScript,
		sign:       prevOut.PkScript,
		sigVersion: sighash.SigVersionBase,
	}

	if txscript.IsPayToScriptHash(q.spk) {
		if in.RedeemScript == nil {
			return nil, errors.New("missing redeemScript")
		}
		if !bytes.Equal(q.spk[2:22], btcutil.Hash160(in.RedeemScript)) {
			return nil, errors.New("redeemScript doesn't satisfy pay-to-script-hash")
		}
		q.rs = in.RedeemScript
		q.sign = q.rs
	} else if in.RedeemScript != nil {
		return nil, errors.New("superfluous redeemScript")
	}

	switch {
	case txscript.IsPayToWitnessPubKeyHash(q.sign):
		// The witness sighash expands the program to its
		// P2PKH script code.
		q.sigVersion = sighash.SigVersionWitnessV0

	case txscript.IsPayToWitnessScriptHash(q.sign):
		if in.WitnessScript == nil {
			return nil, errors.New("missing witnessScript")
		}
		if !bytes.Equal(q.sign[2:], chainhash.HashB(in.WitnessScript)) {
			return nil, errors.New("witnessScript doesn't satisfy pay-to-witness-script-hash")
		}
		q.ws = in.WitnessScript
		q.sign = q.ws
		q.sigVersion = sighash.SigVersionWitnessV0

	case txscript.IsPayToTaproot(q.sign):
		q.sigVersion = sighash.SigVersionTaproot

	case in.WitnessScript != nil:
		return nil, errors.New("superfluous witnessScript")
	}

	if q.isSegwit() && !net.SegwitEnabled {
		return nil, errors.Errorf("detected segwit input, though it is not enabled")
	}
	if q.sigVersion == sighash.SigVersionTaproot && !net.TaprootEnabled {
		return nil, errors.Errorf("detected taproot input, though it is not enabled")
	}

	return q, nil
}
