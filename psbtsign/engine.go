package psbtsign

import (
	"bytes"
	"context"
	"encoding/hex"
	"sort"

	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/sighash"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// State is where a PSBT is in its signing lifecycle.
type State int

const (
	// StateUnsigned is a PSBT nothing was signed in yet.
	StateUnsigned State = iota

	// StatePartiallySigned is a PSBT whose declared inputs
	// carry signatures but are not finalized.
	StatePartiallySigned

	// StateFinalized is a PSBT whose declared inputs were
	// finalized, and extracted unless signing only.
	StateFinalized

	// StateFinalizeFailed is a signed PSBT which could not be
	// finalized, eg because a co-signer has yet to sign.
	StateFinalizeFailed
)

func (s State) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePartiallySigned:
		return "partially-signed"
	case StateFinalized:
		return "finalized"
	case StateFinalizeFailed:
		return "finalize-failed"
	}
	return "unknown"
}

// Result is what a signing operation produces. Txid is only
// set by SignAndExtract.
type Result struct {
	EncodedTx        *EncodedTx `json:"encodedTx"`
	Txid             string     `json:"txid"`
	RawTx            string     `json:"rawTx"`
	PsbtHex          string     `json:"psbtHex,omitempty"`
	FinalizedPsbtHex string     `json:"finalizedPsbtHex,omitempty"`

	State       State `json:"-"`
	FinalizeErr error `json:"-"`
}

// Engine signs PSBTs of one network with the keys of one request.
type Engine struct {
	net  *network.Network
	keys signer.Keys
}

// NewEngine returns an engine signing with keys.
func NewEngine(net *network.Network, keys signer.Keys) *Engine {
	return &Engine{net: net, keys: keys}
}

// Network returns the network the engine signs for.
func (e *Engine) Network() *network.Network {
	return e.net
}

// sortInputs returns a copy of inputs in ascending index order,
// rejecting duplicates.
func sortInputs(inputs []InputToSign, numInputs int) ([]InputToSign, error) {
	sorted := make([]InputToSign, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	for i, input := range sorted {
		if input.Index < 0 || input.Index >= numInputs {
			return nil, errors.Errorf("Requested out of range input %d, but transaction has %d",
				input.Index, numInputs)
		}
		if i > 0 && sorted[i-1].Index == input.Index {
			return nil, errors.Errorf("input %d is declared twice", input.Index)
		}
	}

	return sorted, nil
}

// SignInputs signs every declared input in ascending index order.
// Undeclared inputs are left untouched.
func (e *Engine) SignInputs(ctx context.Context, p *psbt.Packet, inputs []InputToSign) error {
	sorted, err := sortInputs(inputs, len(p.UnsignedTx.TxIn))
	if err != nil {
		return err
	}

	fetcher, missing := prevOutFetcher(p)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)

	for _, input := range sorted {
		key, err := e.keys.Pick(input.Address)
		if err != nil {
			return err
		}

		s, err := signer.New(ctx, key, &p.Inputs[input.Index], input.tweakOverride())
		if err != nil {
			return errors.Wrapf(err, "input %d", input.Index)
		}

		checker, err := e.net.CheckerCreator(p.UnsignedTx, sigHashes, fetcher, input.Index)
		if err != nil {
			return err
		}

		switch s := s.(type) {
		case *signer.Plain:
			err = e.signECDSA(ctx, p, input, s, checker)
		case *signer.Tweaked:
			if missing > 0 {
				return errors.Errorf("taproot input %d needs the utxo of every input", input.Index)
			}
			err = e.signSchnorr(ctx, p, input, s, checker)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to sign input %d", input.Index)
		}

		log.Debugf("signed input %d of %s", input.Index, input.Address)
	}

	return nil
}

// resolveHashType picks the declared hash type, or def, and
// checks the caller allows it.
func resolveHashType(declared, def txscript.SigHashType, allowed []txscript.SigHashType) (txscript.SigHashType, error) {
	hashType := def
	if declared != 0 {
		hashType = declared
	}

	if len(allowed) == 0 {
		allowed = []txscript.SigHashType{def}
	}
	for _, t := range allowed {
		if t == hashType {
			return hashType, nil
		}
	}

	return 0, errors.Errorf("sighash type %#x is not allowed, allowed: %v", uint32(hashType), allowed)
}

func (e *Engine) signECDSA(ctx context.Context, p *psbt.Packet, input InputToSign,
	s *signer.Plain, checker sighash.Checker) error {

	q, err := qualifyInput(e.net, p, input.Index)
	if err != nil {
		return err
	}
	if q.sigVersion == sighash.SigVersionTaproot {
		return errors.New("taproot output needs a schnorr signer")
	}

	hashType, err := resolveHashType(p.Inputs[input.Index].SighashType, e.net.DefaultHashType, input.SighashTypes)
	if err != nil {
		return err
	}

	hash, err := checker.GetSigHash(q.sign, hashType, q.sigVersion)
	if err != nil {
		return err
	}

	sig, err := s.Sign(ctx, hash)
	if err != nil {
		return err
	}
	txSig := &sighash.TxSignature{HashType: hashType, Signature: sig}

	updater, err := psbt.NewUpdater(p)
	if err != nil {
		return err
	}

	// The finalizer expects SIGHASH_ALL unless told otherwise.
	if hashType != txscript.SigHashAll {
		if err := updater.AddInSighashType(hashType, input.Index); err != nil {
			return err
		}
	}

	outcome, err := updater.Sign(input.Index, txSig.Serialize(), s.PubKey().SerializeCompressed(), nil, nil)
	if err != nil {
		return err
	}
	if outcome == psbt.SignFinalized {
		return errors.New("input is already finalized")
	}

	return nil
}

func (e *Engine) signSchnorr(ctx context.Context, p *psbt.Packet, input InputToSign,
	s *signer.Tweaked, checker sighash.Checker) error {

	if !e.net.TaprootEnabled {
		return errors.Errorf("taproot is not enabled on %s", e.net.Code)
	}

	pIn := &p.Inputs[input.Index]
	hashType, err := resolveHashType(pIn.SighashType, txscript.SigHashDefault, input.SighashTypes)
	if err != nil {
		return err
	}

	xOnly := s.XOnlyPubKey()
	if !s.IsTweaked() && len(pIn.TaprootLeafScript) > 0 {
		signed, err := signLeaves(ctx, pIn, s, checker, xOnly, hashType)
		if err != nil {
			return err
		}
		if signed == 0 {
			return errors.Errorf("no leaf script commits to key %x", xOnly)
		}
		return nil
	}

	if len(pIn.TaprootKeySpendSig) > 0 {
		return errors.New("input already has a key spend signature")
	}

	hash, err := checker.GetTaprootSigHash(hashType, nil)
	if err != nil {
		return err
	}

	sig, err := s.Sign(ctx, hash)
	if err != nil {
		return err
	}

	pIn.TaprootKeySpendSig = (&sighash.SchnorrSignature{HashType: hashType, Signature: sig}).Serialize()

	return nil
}

// signLeaves adds a script spend signature for every leaf
// script of pIn that commits to xOnly.
func signLeaves(ctx context.Context, pIn *psbt.PInput, s *signer.Tweaked, checker sighash.Checker,
	xOnly []byte, hashType txscript.SigHashType) (int, error) {

	signed := 0
	for _, leafScript := range pIn.TaprootLeafScript {
		if len(leafScript.ControlBlock) == 0 || !bytes.Contains(leafScript.Script, xOnly) {
			continue
		}

		leaf := txscript.NewTapLeaf(leafScript.LeafVersion, leafScript.Script)
		leafHash := leaf.TapHash()

		for _, existing := range pIn.TaprootScriptSpendSig {
			if bytes.Equal(existing.XOnlyPubKey, xOnly) && bytes.Equal(existing.LeafHash, leafHash[:]) {
				return 0, errors.Errorf("leaf %s is already signed", leafHash)
			}
		}

		hash, err := checker.GetTaprootSigHash(hashType, &leaf)
		if err != nil {
			return 0, err
		}

		sig, err := s.Sign(ctx, hash)
		if err != nil {
			return 0, err
		}

		pIn.TaprootScriptSpendSig = append(pIn.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: xOnly,
			LeafHash:    leafHash[:],
			Signature:   sig.Serialize(),
			SigHash:     hashType,
		})
		signed++
	}

	return signed, nil
}

// SignPsbt signs the declared inputs of a PSBT and tries to finalize
// them on a copy re-parsed from the signed serialization. When
// finalization fails the result is not an error: it carries the
// signed PSBT in FinalizeFailed state for a later signer.
func (e *Engine) SignPsbt(ctx context.Context, encodedTx *EncodedTx, p *psbt.Packet,
	inputs []InputToSign, signOnly bool) (*Result, error) {

	if err := e.SignInputs(ctx, p, inputs); err != nil {
		return nil, err
	}

	psbtHex, err := EncodePsbtHex(p)
	if err != nil {
		return nil, err
	}

	result := &Result{
		EncodedTx: encodedTx,
		PsbtHex:   psbtHex,
		State:     StatePartiallySigned,
	}

	rawTx, finalizedHex, err := finalizeInputs(psbtHex, inputs, signOnly)
	if err != nil {
		log.Warnf("Failed to finalize PSBT: %v", err)
		result.State = StateFinalizeFailed
		result.FinalizeErr = err
		result.FinalizedPsbtHex = psbtHex
		return result, nil
	}

	result.RawTx = rawTx
	result.FinalizedPsbtHex = finalizedHex
	result.State = StateFinalized

	return result, nil
}

func finalizeInputs(psbtHex string, inputs []InputToSign, signOnly bool) (string, string, error) {
	fresh, err := DecodePsbtHex(psbtHex)
	if err != nil {
		return "", "", err
	}

	for _, input := range inputs {
		if err := psbt.Finalize(fresh, input.Index); err != nil {
			return "", "", errors.Wrapf(err, "failed to finalize input %d", input.Index)
		}
	}

	rawTx := ""
	if !signOnly {
		tx, err := psbt.Extract(fresh)
		if err != nil {
			return "", "", errors.Wrap(err, "failed to extract transaction")
		}
		if rawTx, err = EncodeTxHex(tx); err != nil {
			return "", "", err
		}
	}

	finalizedHex, err := EncodePsbtHex(fresh)
	if err != nil {
		return "", "", err
	}

	return rawTx, finalizedHex, nil
}

// SignAndExtract is the path of transactions the wallet built
// itself: every input is signed, every signature verified, and
// the transaction finalized and extracted. Any failure is fatal.
func (e *Engine) SignAndExtract(ctx context.Context, encodedTx *EncodedTx, p *psbt.Packet,
	inputs []InputToSign) (*Result, error) {

	if err := e.SignInputs(ctx, p, inputs); err != nil {
		return nil, err
	}

	if err := e.VerifySignatures(p); err != nil {
		return nil, err
	}

	if err := psbt.MaybeFinalizeAll(p); err != nil {
		return nil, errors.Wrap(err, "failed to finalize psbt")
	}

	tx, err := psbt.Extract(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract transaction")
	}

	rawTx, err := EncodeTxHex(tx)
	if err != nil {
		return nil, err
	}

	txid := tx.TxHash().String()
	log.Infof("extracted %s transaction %s", e.net.Code, txid)

	return &Result{
		EncodedTx: encodedTx,
		Txid:      txid,
		RawTx:     rawTx,
		State:     StateFinalized,
	}, nil
}

// VerifySignatures checks every signature present in p against
// its key and sighash with the network's checker. An input
// without any signature fails.
func (e *Engine) VerifySignatures(p *psbt.Packet) error {
	fetcher, _ := prevOutFetcher(p)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)

	for idx := range p.Inputs {
		checker, err := e.net.CheckerCreator(p.UnsignedTx, sigHashes, fetcher, idx)
		if err != nil {
			return err
		}
		if err := e.verifyInput(p, idx, checker, fetcher); err != nil {
			return errors.Wrapf(err, "signature of input %d failed verification", idx)
		}
	}

	return nil
}

func (e *Engine) verifyInput(p *psbt.Packet, idx int, checker sighash.Checker,
	fetcher txscript.PrevOutputFetcher) error {

	pIn := &p.Inputs[idx]
	if len(pIn.PartialSigs) == 0 && len(pIn.TaprootKeySpendSig) == 0 &&
		len(pIn.TaprootScriptSpendSig) == 0 {
		return errors.New("input is not signed")
	}

	if len(pIn.TaprootKeySpendSig) > 0 {
		prevOut := fetcher.FetchPrevOutput(p.UnsignedTx.TxIn[idx].PreviousOutPoint)
		if !txscript.IsPayToTaproot(prevOut.PkScript) {
			return errors.New("key spend signature on a non taproot output")
		}
		if err := checker.CheckSchnorrSig(prevOut.PkScript[2:], pIn.TaprootKeySpendSig, nil); err != nil {
			return err
		}
	}

	for _, scriptSig := range pIn.TaprootScriptSpendSig {
		leafScript, err := psbt.FindLeafScript(pIn, scriptSig.LeafHash)
		if err != nil {
			return err
		}
		leaf := txscript.NewTapLeaf(leafScript.LeafVersion, leafScript.Script)

		sig := append([]byte{}, scriptSig.Signature...)
		if scriptSig.SigHash != txscript.SigHashDefault {
			sig = append(sig, byte(scriptSig.SigHash))
		}
		if err := checker.CheckSchnorrSig(scriptSig.XOnlyPubKey, sig, &leaf); err != nil {
			return err
		}
	}

	if len(pIn.PartialSigs) > 0 {
		q, err := qualifyInput(e.net, p, idx)
		if err != nil {
			return err
		}
		for _, partial := range pIn.PartialSigs {
			if err := checker.CheckSig(q.sign, partial.PubKey, partial.Signature, q.sigVersion); err != nil {
				return err
			}
		}
	}

	return nil
}

// DecodePsbtHex parses a hex serialized PSBT.
func DecodePsbtHex(psbtHex string) (*psbt.Packet, error) {
	raw, err := hex.DecodeString(psbtHex)
	if err != nil {
		return nil, errors.Wrap(err, "invalid psbt hex")
	}

	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, errors.Wrap(err, "invalid psbt")
	}

	return p, nil
}

// EncodePsbtHex serializes p to hex.
func EncodePsbtHex(p *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, "failed to serialize psbt")
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// EncodeTxHex serializes tx, with witnesses, to hex.
func EncodeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, "failed to serialize transaction")
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
