package psbtsign

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	_assert "github.com/stretchr/testify/require"
)

const (
	testPassword = "password"

	// account m/84'/0'/0' of the "abandon ... about" mnemonic
	testZprv   = "zprvAdG4iTXWBoARxkkzNpNh8r6Qag3irQB8PzEMkAFeTRXxHpbF9z4QgEvBRmfvqWvGp42t42nvgGpNgYSJA9iefm1yYNZKEm7z6qUWCroSQnE"
	testAddr00 = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	testAddr01 = "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"
)

var fundingTxid = strings.Repeat("ab", 32)

func zprvChild(t *testing.T, indices ...uint32) *btcec.PrivateKey {
	key, err := hdkeychain.NewKeyFromString(testZprv)
	_assert.NoError(t, err)

	for _, index := range indices {
		key, err = key.Derive(index)
		_assert.NoError(t, err)
	}

	priv, err := key.ECPrivKey()
	_assert.NoError(t, err)
	return priv
}

func fixedKey(b byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{b}, 32))
	return priv
}

// testWallet holds encrypted keys by address, the way a
// signing request sees them.
type testWallet struct {
	net     *network.Network
	crypter keyvault.Crypter
	keys    signer.Keys
	pubs    map[string]*btcec.PublicKey
}

func newTestWallet(net *network.Network) *testWallet {
	return &testWallet{
		net:     net,
		crypter: keyvault.NewScryptCrypter(16),
		keys:    make(signer.Keys),
		pubs:    make(map[string]*btcec.PublicKey),
	}
}

func (w *testWallet) add(t *testing.T, priv *btcec.PrivateKey, enc network.AddressEncoding) string {
	addr, err := address.FromPublicKey(priv.PubKey(), enc, w.net)
	_assert.NoError(t, err)

	encrypted, err := w.crypter.Encrypt(context.Background(), testPassword, priv.Serialize())
	_assert.NoError(t, err)

	encoded := addr.EncodeAddress()
	w.keys[encoded] = signer.NewKey(encoded, "", encrypted, testPassword, w.crypter)
	w.pubs[encoded] = priv.PubKey()
	return encoded
}

func (w *testWallet) lookup(_ context.Context, addr string) (*btcec.PublicKey, error) {
	pub, ok := w.pubs[addr]
	if !ok {
		return nil, errors.Errorf("unknown address %s", addr)
	}
	return pub, nil
}

func (w *testWallet) engine() *Engine {
	return NewEngine(w.net, w.keys)
}

func decodeTx(t *testing.T, rawHex string) *wire.MsgTx {
	raw, err := hex.DecodeString(rawHex)
	_assert.NoError(t, err)

	tx := &wire.MsgTx{}
	_assert.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	return tx
}

// executeInput runs the script interpreter over input idx
// of a signed transaction.
func executeInput(t *testing.T, tx *wire.MsgTx, idx int, prevOuts map[wire.OutPoint]*wire.TxOut) {
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	prevOut := fetcher.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	_assert.NotNil(t, prevOut)

	vm, err := txscript.NewEngine(prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher)
	_assert.NoError(t, err)
	_assert.NoError(t, vm.Execute())
}

func packetPrevOuts(t *testing.T, p *psbt.Packet) map[wire.OutPoint]*wire.TxOut {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs))
	for i, txIn := range p.UnsignedTx.TxIn {
		prevOut, err := prevOutput(p, i)
		_assert.NoError(t, err)
		prevOuts[txIn.PreviousOutPoint] = prevOut
	}
	return prevOuts
}

func oneInputTx(addr string, value int64, to string) *EncodedTx {
	return &EncodedTx{
		Inputs:  []TxInput{{Txid: fundingTxid, Vout: 0, Value: value, Address: addr}},
		Outputs: []TxOutput{{Address: to, Value: value - 10000}},
	}
}

func TestSignAndExtractP2WPKH(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)

	priv := zprvChild(t, 0, 0)
	addr := w.add(t, priv, network.EncodingP2WPKH)
	_assert.Equal(t, testAddr00, addr)

	encodedTx := oneInputTx(addr, 100000, testAddr01)
	p, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
	_assert.NoError(t, err)
	_assert.NotNil(t, p.Inputs[0].WitnessUtxo)
	_assert.Nil(t, p.Inputs[0].NonWitnessUtxo)

	unsigned := p.UnsignedTx.Copy()
	prevOuts := packetPrevOuts(t, p)

	result, err := w.engine().SignAndExtract(ctx, encodedTx, p, []InputToSign{{Index: 0, Address: addr}})
	_assert.NoError(t, err)
	_assert.Equal(t, StateFinalized, result.State)
	_assert.Equal(t, encodedTx, result.EncodedTx)

	tx := decodeTx(t, result.RawTx)
	_assert.Equal(t, tx.TxHash().String(), result.Txid)

	t.Run("witness holds one signature and one key", func(t *testing.T) {
		_assert.Len(t, tx.TxIn[0].Witness, 2)
		_assert.Equal(t, priv.PubKey().SerializeCompressed(), tx.TxIn[0].Witness[1])
		_assert.Equal(t, byte(txscript.SigHashAll), tx.TxIn[0].Witness[0][len(tx.TxIn[0].Witness[0])-1])
		_assert.Empty(t, tx.TxIn[0].SignatureScript)
		executeInput(t, tx, 0, prevOuts)
	})

	t.Run("round trip keeps inputs and outputs", func(t *testing.T) {
		_assert.NoError(t, psbt.VerifyInputPrevOutpointsEqual(unsigned.TxIn, tx.TxIn))
		_assert.NoError(t, psbt.VerifyOutputsEqual(unsigned.TxOut, tx.TxOut))
		_assert.Equal(t, unsigned.TxHash(), tx.TxHash())
	})

	t.Run("signing is deterministic", func(t *testing.T) {
		again, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
		_assert.NoError(t, err)
		second, err := w.engine().SignAndExtract(ctx, encodedTx, again, []InputToSign{{Index: 0, Address: addr}})
		_assert.NoError(t, err)
		_assert.Equal(t, result.RawTx, second.RawTx)
	})
}

func TestSignAndExtractLegacyAndNested(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)

	legacy := w.add(t, zprvChild(t, 0, 2), network.EncodingP2PKH)
	nested := w.add(t, zprvChild(t, 0, 3), network.EncodingP2SHP2WPKH)

	legacyInfo, err := address.Decode(w.net, legacy)
	_assert.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, nil, nil))
	prevTx.AddTxOut(wire.NewTxOut(50000, legacyInfo.Script))
	prevHex, err := EncodeTxHex(prevTx)
	_assert.NoError(t, err)
	prevTxid := prevTx.TxHash().String()

	encodedTx := &EncodedTx{
		Inputs: []TxInput{
			{Txid: prevTxid, Vout: 0, Value: 50000, Address: legacy},
			{Txid: fundingTxid, Vout: 1, Value: 70000, Address: nested},
		},
		Outputs: []TxOutput{{Address: testAddr01, Value: 110000}},
	}

	t.Run("legacy input needs its previous transaction", func(t *testing.T) {
		_, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
		_assert.Error(t, err)
		_assert.Contains(t, err.Error(), "previous transaction")
	})

	p, err := Build(ctx, w.net, encodedTx, map[string]string{prevTxid: prevHex}, w.lookup)
	_assert.NoError(t, err)
	_assert.NotNil(t, p.Inputs[0].NonWitnessUtxo)
	_assert.NotNil(t, p.Inputs[1].RedeemScript)
	prevOuts := packetPrevOuts(t, p)

	result, err := w.engine().SignAndExtract(ctx, encodedTx, p, []InputToSign{
		{Index: 1, Address: nested},
		{Index: 0, Address: legacy},
	})
	_assert.NoError(t, err)

	tx := decodeTx(t, result.RawTx)
	_assert.NotEmpty(t, tx.TxIn[0].SignatureScript)
	_assert.Empty(t, tx.TxIn[0].Witness)
	_assert.NotEmpty(t, tx.TxIn[1].SignatureScript)
	_assert.Len(t, tx.TxIn[1].Witness, 2)

	executeInput(t, tx, 0, prevOuts)
	executeInput(t, tx, 1, prevOuts)
}

func TestSignPsbtTaprootKeyPath(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)

	priv := fixedKey(0x11)
	addr := w.add(t, priv, network.EncodingP2TR)
	account := &signer.Account{Address: addr, PubKey: priv.PubKey()}

	encodedTx := oneInputTx(addr, 80000, testAddr01)
	built, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
	_assert.NoError(t, err)

	// drop the internal key, as an external dapp might
	built.Inputs[0].TaprootInternalKey = nil
	unsignedHex, err := EncodePsbtHex(built)
	_assert.NoError(t, err)

	outputKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())

	for i := 0; i < 2; i++ {
		p, err := DecodePsbtHex(unsignedHex)
		_assert.NoError(t, err)
		prevOuts := packetPrevOuts(t, p)

		inputs, err := InputsToSignFromPsbt(p, account, w.net)
		_assert.NoError(t, err)
		_assert.Len(t, inputs, 1)
		_assert.Equal(t, schnorr.SerializePubKey(priv.PubKey()), p.Inputs[0].TaprootInternalKey)

		result, err := w.engine().SignPsbt(ctx, encodedTx, p, inputs, false)
		_assert.NoError(t, err)
		_assert.Equal(t, StateFinalized, result.State)
		_assert.Equal(t, "", result.Txid)
		_assert.NotEmpty(t, result.FinalizedPsbtHex)
		_assert.NotEqual(t, result.PsbtHex, result.FinalizedPsbtHex)

		signed, err := DecodePsbtHex(result.PsbtHex)
		_assert.NoError(t, err)
		_assert.Len(t, signed.Inputs[0].TaprootKeySpendSig, schnorr.SignatureSize)

		tx := decodeTx(t, result.RawTx)
		_assert.Len(t, tx.TxIn[0].Witness, 1)

		fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
		hash, err := txscript.CalcTaprootSignatureHash(txscript.NewTxSigHashes(tx, fetcher),
			txscript.SigHashDefault, tx, 0, fetcher)
		_assert.NoError(t, err)

		sig, err := schnorr.ParseSignature(tx.TxIn[0].Witness[0])
		_assert.NoError(t, err)
		_assert.True(t, sig.Verify(hash, outputKey))
		_assert.False(t, sig.Verify(hash, priv.PubKey()))

		executeInput(t, tx, 0, prevOuts)
	}
}

func TestSignScriptPath(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)

	priv := fixedKey(0x22)
	addr := w.add(t, priv, network.EncodingP2TR)
	internal := fixedKey(0x33).PubKey()

	leafScript, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(priv.PubKey())).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	_assert.NoError(t, err)

	leaf := txscript.NewBaseTapLeaf(leafScript)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	root := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internal, root[:])
	cb := tree.LeafMerkleProofs[0].ToControlBlock(internal)
	controlBlock, err := cb.ToBytes()
	_assert.NoError(t, err)

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(outputKey)).
		Script()
	_assert.NoError(t, err)

	newPacket := func() *psbt.Packet {
		hash, err := chainhash.NewHashFromStr(fundingTxid)
		_assert.NoError(t, err)

		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 3), nil, nil))
		tx.AddTxOut(wire.NewTxOut(50000, pkScript))

		p, err := psbt.NewFromUnsignedTx(tx)
		_assert.NoError(t, err)
		p.Inputs[0].WitnessUtxo = wire.NewTxOut(60000, pkScript)
		p.Inputs[0].TaprootInternalKey = schnorr.SerializePubKey(internal)
		p.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: controlBlock,
			Script:       leafScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}}
		return p
	}

	t.Run("leaf is signed with the untweaked key", func(t *testing.T) {
		p := newPacket()
		prevOuts := packetPrevOuts(t, p)
		_assert.Equal(t, signer.SpendScriptPath, signer.ClassifyInput(&p.Inputs[0]))

		result, err := w.engine().SignAndExtract(ctx, nil, p, []InputToSign{{Index: 0, Address: addr}})
		_assert.NoError(t, err)

		tx := decodeTx(t, result.RawTx)
		_assert.Len(t, tx.TxIn[0].Witness, 3)
		_assert.Equal(t, leafScript, tx.TxIn[0].Witness[1])
		_assert.Equal(t, controlBlock, tx.TxIn[0].Witness[2])
		executeInput(t, tx, 0, prevOuts)
	})

	t.Run("forcing the tweak needs our internal key", func(t *testing.T) {
		force := true
		_, err := w.engine().SignAndExtract(ctx, nil, newPacket(), []InputToSign{
			{Index: 0, Address: addr, UseTweakedSigner: &force},
		})
		_assert.Equal(t, signer.ErrInternalKeyMismatch, errors.Cause(err))
	})
}

func TestSignPsbtFinalizeFailed(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)

	ours := w.add(t, zprvChild(t, 0, 0), network.EncodingP2WPKH)
	theirs := w.add(t, fixedKey(0x44), network.EncodingP2WPKH)
	delete(w.keys, theirs)

	encodedTx := &EncodedTx{
		Inputs: []TxInput{
			{Txid: fundingTxid, Vout: 0, Value: 40000, Address: ours},
			{Txid: fundingTxid, Vout: 1, Value: 40000, Address: theirs},
		},
		Outputs: []TxOutput{{Address: testAddr01, Value: 70000}},
	}
	inputs := []InputToSign{{Index: 0, Address: ours}}

	t.Run("co-owned input keeps the psbt unfinalized", func(t *testing.T) {
		p, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
		_assert.NoError(t, err)

		result, err := w.engine().SignPsbt(ctx, encodedTx, p, inputs, false)
		_assert.NoError(t, err)
		_assert.Equal(t, StateFinalizeFailed, result.State)
		_assert.Error(t, result.FinalizeErr)
		_assert.Equal(t, "", result.RawTx)
		_assert.Equal(t, "", result.Txid)
		_assert.Equal(t, result.PsbtHex, result.FinalizedPsbtHex)

		_assert.Len(t, p.Inputs[0].PartialSigs, 1)
		_assert.Empty(t, p.Inputs[1].PartialSigs)
	})

	t.Run("sign only finalizes our input", func(t *testing.T) {
		p, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
		_assert.NoError(t, err)

		result, err := w.engine().SignPsbt(ctx, encodedTx, p, inputs, true)
		_assert.NoError(t, err)
		_assert.Equal(t, StateFinalized, result.State)
		_assert.Equal(t, "", result.RawTx)

		finalized, err := DecodePsbtHex(result.FinalizedPsbtHex)
		_assert.NoError(t, err)
		_assert.NotEmpty(t, finalized.Inputs[0].FinalScriptWitness)
		_assert.Empty(t, finalized.Inputs[1].FinalScriptWitness)
	})

	t.Run("wallet path refuses the unsigned input", func(t *testing.T) {
		p, err := Build(ctx, w.net, encodedTx, nil, w.lookup)
		_assert.NoError(t, err)

		_, err = w.engine().SignAndExtract(ctx, encodedTx, p, inputs)
		_assert.Error(t, err)
		_assert.Contains(t, err.Error(), "input 1")
	})
}

func TestSignAndExtractBitcoinCash(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BchNetwork)

	addr := w.add(t, fixedKey(0x55), network.EncodingP2PKH)
	info, err := address.Decode(w.net, addr)
	_assert.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	prevTx.AddTxOut(wire.NewTxOut(30000, info.Script))
	prevHex, err := EncodeTxHex(prevTx)
	_assert.NoError(t, err)

	encodedTx := &EncodedTx{
		Inputs:  []TxInput{{Txid: prevTx.TxHash().String(), Vout: 0, Value: 30000, Address: addr}},
		Outputs: []TxOutput{{Address: addr, Value: 20000}},
	}
	p, err := Build(ctx, w.net, encodedTx, map[string]string{prevTx.TxHash().String(): prevHex}, w.lookup)
	_assert.NoError(t, err)

	result, err := w.engine().SignAndExtract(ctx, encodedTx, p, []InputToSign{
		{Index: 0, Address: addr, SighashTypes: []txscript.SigHashType{w.net.DefaultHashType}},
	})
	_assert.NoError(t, err)

	tx := decodeTx(t, result.RawTx)
	pushes, err := txscript.PushedData(tx.TxIn[0].SignatureScript)
	_assert.NoError(t, err)
	_assert.Len(t, pushes, 2)
	_assert.Equal(t, byte(0x41), pushes[0][len(pushes[0])-1])
}

func TestSignInputsErrors(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)
	addr := w.add(t, zprvChild(t, 0, 0), network.EncodingP2WPKH)

	build := func() *psbt.Packet {
		p, err := Build(ctx, w.net, oneInputTx(addr, 100000, testAddr01), nil, w.lookup)
		_assert.NoError(t, err)
		return p
	}

	t.Run("unknown address", func(t *testing.T) {
		err := w.engine().SignInputs(ctx, build(), []InputToSign{{Index: 0, Address: testAddr01}})
		_assert.EqualError(t, err, "BTC signer not found: "+testAddr01)
		_, ok := errors.Cause(err).(*signer.SignerNotFoundError)
		_assert.True(t, ok)
	})

	t.Run("out of range", func(t *testing.T) {
		err := w.engine().SignInputs(ctx, build(), []InputToSign{{Index: 1, Address: addr}})
		_assert.Error(t, err)
	})

	t.Run("declared twice", func(t *testing.T) {
		err := w.engine().SignInputs(ctx, build(), []InputToSign{{Index: 0, Address: addr}, {Index: 0, Address: addr}})
		_assert.EqualError(t, err, "input 0 is declared twice")
	})

	t.Run("hash type not allowed", func(t *testing.T) {
		p := build()
		err := w.engine().SignInputs(ctx, p, []InputToSign{{
			Index:        0,
			Address:      addr,
			SighashTypes: []txscript.SigHashType{txscript.SigHashAll | txscript.SigHashAnyOneCanPay},
		}})
		_assert.Error(t, err)
		_assert.Empty(t, p.Inputs[0].PartialSigs)
	})

	t.Run("declared hash type is used", func(t *testing.T) {
		p := build()
		hashType := txscript.SigHashAll | txscript.SigHashAnyOneCanPay
		p.Inputs[0].SighashType = hashType

		err := w.engine().SignInputs(ctx, p, []InputToSign{{
			Index:        0,
			Address:      addr,
			SighashTypes: []txscript.SigHashType{hashType},
		}})
		_assert.NoError(t, err)
		sig := p.Inputs[0].PartialSigs[0].Signature
		_assert.Equal(t, byte(hashType), sig[len(sig)-1])
		_assert.NoError(t, w.engine().VerifySignatures(p))
	})
}

func TestBuildFailsFast(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(network.BtcNetwork)
	addr := w.add(t, zprvChild(t, 0, 0), network.EncodingP2WPKH)

	t.Run("unknown public key", func(t *testing.T) {
		tx := &EncodedTx{
			Inputs: []TxInput{
				{Txid: fundingTxid, Vout: 0, Value: 1000, Address: addr},
				{Txid: fundingTxid, Vout: 1, Value: 1000, Address: testAddr01},
			},
			Outputs: []TxOutput{{Address: addr, Value: 1500}},
		}
		p, err := Build(ctx, w.net, tx, nil, w.lookup)
		_assert.Nil(t, p)
		_assert.Error(t, err)
		_assert.Contains(t, err.Error(), "input 1")
	})

	t.Run("key does not match address", func(t *testing.T) {
		lookup := func(context.Context, string) (*btcec.PublicKey, error) {
			return fixedKey(0x66).PubKey(), nil
		}
		p, err := Build(ctx, w.net, oneInputTx(addr, 100000, addr), nil, lookup)
		_assert.Nil(t, p)
		_assert.Error(t, err)
	})

	t.Run("wrong network", func(t *testing.T) {
		p, err := Build(ctx, network.BtcTestNetwork, oneInputTx(addr, 100000, addr), nil, w.lookup)
		_assert.Nil(t, p)
		_assert.Error(t, err)
	})

	t.Run("no inputs", func(t *testing.T) {
		_, err := Build(ctx, w.net, &EncodedTx{Outputs: []TxOutput{{Address: addr}}}, nil, w.lookup)
		_assert.Equal(t, ErrNoInputs, err)
	})

	t.Run("op_return output", func(t *testing.T) {
		tx := oneInputTx(addr, 100000, addr)
		tx.Outputs = append(tx.Outputs, TxOutput{Script: "6a0568656c6c6f"})
		p, err := Build(ctx, w.net, tx, nil, w.lookup)
		_assert.NoError(t, err)
		_assert.Equal(t, txscript.NullDataTy, txscript.GetScriptClass(p.UnsignedTx.TxOut[1].PkScript))
		_assert.Equal(t, int32(defaultTxVersion), p.UnsignedTx.Version)
	})
}

func TestInputsToSignFromPsbt(t *testing.T) {
	w := newTestWallet(network.BtcNetwork)
	priv := fixedKey(0x77)
	addr := w.add(t, priv, network.EncodingP2TR)
	info, err := address.Decode(w.net, addr)
	_assert.NoError(t, err)

	hash, err := chainhash.NewHashFromStr(fundingTxid)
	_assert.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 0), nil, nil))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 1), nil, nil))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 2), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, info.Script))

	p, err := psbt.NewFromUnsignedTx(tx)
	_assert.NoError(t, err)
	foreign, err := address.Decode(w.net, testAddr01)
	_assert.NoError(t, err)
	p.Inputs[0].WitnessUtxo = wire.NewTxOut(1000, foreign.Script)
	p.Inputs[1].WitnessUtxo = wire.NewTxOut(2000, info.Script)

	inputs, err := InputsToSignFromPsbt(p, &signer.Account{Address: addr, PubKey: priv.PubKey()}, w.net)
	_assert.NoError(t, err)
	_assert.Len(t, inputs, 1)
	assert.Equal(t, 1, inputs[0].Index)
	assert.Equal(t, addr, inputs[0].Address)
	assert.Equal(t, hex.EncodeToString(priv.PubKey().SerializeCompressed()), inputs[0].PublicKey)
	assert.Equal(t, schnorr.SerializePubKey(priv.PubKey()), p.Inputs[1].TaprootInternalKey)
	assert.Empty(t, p.Inputs[0].TaprootInternalKey)
}

func TestQualifyInput(t *testing.T) {
	priv := fixedKey(0x12)
	redeemScript, err := address.P2WPKHScript(priv.PubKey())
	_assert.NoError(t, err)

	nested, err := address.FromPublicKey(priv.PubKey(), network.EncodingP2SHP2WPKH, network.BtcNetwork)
	_assert.NoError(t, err)
	nestedScript, err := txscript.PayToAddrScript(nested)
	_assert.NoError(t, err)

	packet := func(pkScript, rs []byte) *psbt.Packet {
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
		tx.AddTxOut(wire.NewTxOut(1, redeemScript))
		p, err := psbt.NewFromUnsignedTx(tx)
		_assert.NoError(t, err)
		p.Inputs[0].WitnessUtxo = wire.NewTxOut(1, pkScript)
		p.Inputs[0].RedeemScript = rs
		return p
	}

	t.Run("nested p2wpkh", func(t *testing.T) {
		q, err := qualifyInput(network.BtcNetwork, packet(nestedScript, redeemScript), 0)
		_assert.NoError(t, err)
		assert.Equal(t, redeemScript, q.sign)
		assert.True(t, q.isSegwit())
	})

	t.Run("missing redeem script", func(t *testing.T) {
		_, err := qualifyInput(network.BtcNetwork, packet(nestedScript, nil), 0)
		_assert.EqualError(t, err, "missing redeemScript")
	})

	t.Run("superfluous redeem script", func(t *testing.T) {
		_, err := qualifyInput(network.BtcNetwork, packet(redeemScript, redeemScript), 0)
		_assert.EqualError(t, err, "superfluous redeemScript")
	})

	t.Run("wrong redeem script", func(t *testing.T) {
		_, err := qualifyInput(network.BtcNetwork, packet(nestedScript, []byte{txscript.OP_TRUE}), 0)
		_assert.EqualError(t, err, "redeemScript doesn't satisfy pay-to-script-hash")
	})

	t.Run("segwit disabled", func(t *testing.T) {
		_, err := qualifyInput(network.DogeNetwork, packet(redeemScript, nil), 0)
		_assert.EqualError(t, err, "detected segwit input, though it is not enabled")
	})

	t.Run("no utxo", func(t *testing.T) {
		p := packet(nil, nil)
		p.Inputs[0].WitnessUtxo = nil
		_, err := qualifyInput(network.BtcNetwork, p, 0)
		_assert.Error(t, err)
	})
}

func TestResolveHashType(t *testing.T) {
	all := txscript.SigHashAll
	anyoneCanPay := txscript.SigHashAll | txscript.SigHashAnyOneCanPay

	fixtures := []struct {
		name     string
		declared txscript.SigHashType
		def      txscript.SigHashType
		allowed  []txscript.SigHashType
		expected txscript.SigHashType
		fails    bool
	}{
		{"default", 0, all, nil, all, false},
		{"taproot default", 0, txscript.SigHashDefault, nil, txscript.SigHashDefault, false},
		{"declared and allowed", anyoneCanPay, all, []txscript.SigHashType{all, anyoneCanPay}, anyoneCanPay, false},
		{"declared not allowed", anyoneCanPay, all, nil, 0, true},
		{"default not allowed", 0, all, []txscript.SigHashType{anyoneCanPay}, 0, true},
	}

	for _, fixture := range fixtures {
		t.Run(fixture.name, func(t *testing.T) {
			hashType, err := resolveHashType(fixture.declared, fixture.def, fixture.allowed)
			if fixture.fails {
				_assert.Error(t, err)
				return
			}
			_assert.NoError(t, err)
			_assert.Equal(t, fixture.expected, hashType)
		})
	}
}
