package sighash

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// SigVersion selects the signature hashing algorithm.
type SigVersion int

const (
	// SigVersionBase is the original pre-segwit algorithm.
	SigVersionBase SigVersion = iota

	// SigVersionWitnessV0 is BIP143.
	SigVersionWitnessV0

	// SigVersionTaproot is the BIP341 key path.
	SigVersionTaproot

	// SigVersionTapscript is the BIP342 script path.
	SigVersionTapscript
)

const (
	// SigHashBitcoinCash is the (mandatory) sighash flag
	// for bitcoin cash which activates BIP143 sig-hashing.
	SigHashBitcoinCash txscript.SigHashType = 0x40
)

var (
	// ErrInvalidSignature is returned when a signature does
	// not verify against the key and sighash.
	ErrInvalidSignature = errors.New("Invalid signature")

	// ErrNoInput is returned for an out of range input index.
	ErrNoInput = errors.New("no input at this index")
)

// Checker exposes an interface for operations
// related to a transaction inputs signature
type Checker interface {
	// GetSigHash returns the ECDSA signature hash for a base
	// or witness v0 script code.
	GetSigHash(script []byte, hashType txscript.SigHashType, sigVersion SigVersion) ([]byte, error)

	// GetTaprootSigHash returns the BIP341 key path sighash when
	// leaf is nil, or the BIP342 sighash for the given leaf.
	GetTaprootSigHash(hashType txscript.SigHashType, leaf *txscript.TapLeaf) ([]byte, error)

	// CheckSig verifies an ECDSA signature with its trailing hashtype.
	CheckSig(script []byte, vchPubKey []byte, vchSig []byte, sigVersion SigVersion) error

	// CheckSchnorrSig verifies a BIP340 signature against an x-only key.
	CheckSchnorrSig(xOnlyPubKey []byte, vchSig []byte, leaf *txscript.TapLeaf) error
}

// CheckerCreator - this declaration is for convenience
// while specifying the type in various places
type CheckerCreator func(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	prevOuts txscript.PrevOutputFetcher, nIn int) (Checker, error)

// inputContext holds what every checker needs to hash one input.
type inputContext struct {
	tx        *wire.MsgTx
	nIn       int
	amount    int64
	sigHashes *txscript.TxSigHashes
	prevOuts  txscript.PrevOutputFetcher
}

func newInputContext(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	prevOuts txscript.PrevOutputFetcher, nIn int) (*inputContext, error) {

	if nIn < 0 || nIn > len(tx.TxIn)-1 {
		return nil, ErrNoInput
	}

	prevOut := prevOuts.FetchPrevOutput(tx.TxIn[nIn].PreviousOutPoint)
	if prevOut == nil {
		return nil, errors.Errorf("missing previous output for input %d", nIn)
	}

	return &inputContext{
		tx:        tx,
		nIn:       nIn,
		amount:    prevOut.Value,
		sigHashes: sigHashes,
		prevOuts:  prevOuts,
	}, nil
}

func (c *inputContext) checkECDSA(getSigHash func([]byte, txscript.SigHashType, SigVersion) ([]byte, error),
	script []byte, vchPubKey []byte, vchSig []byte, sigVersion SigVersion) error {

	pubKey, err := ParsePublicKey(vchPubKey)
	if err != nil {
		return errors.Wrap(err, "checker failed to parse pubkey")
	}

	txSig, err := ParseTxSignature(vchSig)
	if err != nil {
		return errors.Wrap(err, "checker failed to parse sig")
	}

	hash, err := getSigHash(script, txSig.HashType, sigVersion)
	if err != nil {
		return errors.Wrap(err, "checker failed to create sighash")
	}

	if !txSig.Signature.Verify(hash, pubKey) {
		return ErrInvalidSignature
	}

	return nil
}

func (c *inputContext) checkSchnorr(getSigHash func(txscript.SigHashType, *txscript.TapLeaf) ([]byte, error),
	xOnlyPubKey []byte, vchSig []byte, leaf *txscript.TapLeaf) error {

	pubKey, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return errors.Wrap(err, "checker failed to parse x-only pubkey")
	}

	sig, err := ParseSchnorrSignature(vchSig)
	if err != nil {
		return errors.Wrap(err, "checker failed to parse schnorr sig")
	}

	hash, err := getSigHash(sig.HashType, leaf)
	if err != nil {
		return errors.Wrap(err, "checker failed to create sighash")
	}

	if !sig.Signature.Verify(hash, pubKey) {
		return ErrInvalidSignature
	}

	return nil
}

// bitcoinChecker implements Checker for the bitcoin network
// and forks following its segwit/taproot rules.
type bitcoinChecker struct {
	*inputContext
}

// GetSigHash returns a valid sighash for the bitcoin network
func (c *bitcoinChecker) GetSigHash(script []byte, hashType txscript.SigHashType, sigVersion SigVersion) ([]byte, error) {
	switch sigVersion {
	case SigVersionWitnessV0:
		return txscript.CalcWitnessSigHash(script, c.sigHashes, hashType, c.tx, c.nIn, c.amount)
	case SigVersionBase:
		return txscript.CalcSignatureHash(script, hashType, c.tx, c.nIn)
	default:
		return nil, errors.Errorf("sigVersion %d is not an ECDSA sigVersion", sigVersion)
	}
}

// GetTaprootSigHash returns the BIP341/342 sighash
func (c *bitcoinChecker) GetTaprootSigHash(hashType txscript.SigHashType, leaf *txscript.TapLeaf) ([]byte, error) {
	if leaf == nil {
		return txscript.CalcTaprootSignatureHash(c.sigHashes, hashType, c.tx, c.nIn, c.prevOuts)
	}

	return txscript.CalcTapscriptSignaturehash(c.sigHashes, hashType, c.tx, c.nIn, c.prevOuts, *leaf)
}

// CheckSig implements signature checking on the bitcoin network
func (c *bitcoinChecker) CheckSig(script []byte, vchPubKey []byte, vchSig []byte, sigVersion SigVersion) error {
	return c.checkECDSA(c.GetSigHash, script, vchPubKey, vchSig, sigVersion)
}

// CheckSchnorrSig implements taproot signature checking
func (c *bitcoinChecker) CheckSchnorrSig(xOnlyPubKey []byte, vchSig []byte, leaf *txscript.TapLeaf) error {
	return c.checkSchnorr(c.GetTaprootSigHash, xOnlyPubKey, vchSig, leaf)
}

type bitcoinCashChecker struct {
	*inputContext
}

// GetSigHash operation for bitcoin cash
func (c *bitcoinCashChecker) GetSigHash(script []byte, hashType txscript.SigHashType, sigVersion SigVersion) ([]byte, error) {
	if sigVersion != SigVersionBase {
		return nil, errors.New("Invalid sigVersion - must be 0 on bitcoin cash")
	}

	if (hashType & SigHashBitcoinCash) > 0 {
		return txscript.CalcWitnessSigHash(script, c.sigHashes, hashType, c.tx, c.nIn, c.amount)
	}

	return txscript.CalcSignatureHash(script, hashType, c.tx, c.nIn)
}

// GetTaprootSigHash always fails, bitcoin cash has no taproot
func (c *bitcoinCashChecker) GetTaprootSigHash(txscript.SigHashType, *txscript.TapLeaf) ([]byte, error) {
	return nil, errors.New("taproot is not supported on bitcoin cash")
}

// CheckSig operation for bitcoin cash
func (c *bitcoinCashChecker) CheckSig(script []byte, vchPubKey []byte, vchSig []byte, sigVersion SigVersion) error {
	return c.checkECDSA(c.GetSigHash, script, vchPubKey, vchSig, sigVersion)
}

// CheckSchnorrSig always fails, bitcoin cash has no taproot
func (c *bitcoinCashChecker) CheckSchnorrSig([]byte, []byte, *txscript.TapLeaf) error {
	return errors.New("taproot is not supported on bitcoin cash")
}

// BitcoinCheckerCreator is a factory function, that produces a Checker
// for the Bitcoin network.
func BitcoinCheckerCreator(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	prevOuts txscript.PrevOutputFetcher, nIn int) (Checker, error) {

	ctx, err := newInputContext(tx, sigHashes, prevOuts, nIn)
	if err != nil {
		return nil, err
	}

	return &bitcoinChecker{ctx}, nil
}

// BitcoinCashCheckerCreator is a factory function, that produces a Checker
// for the Bitcoin Cash network. The difference is that bitcoin cash triggers
// bip143 sighashing based on sighash flags, instead of sign script type.
func BitcoinCashCheckerCreator(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	prevOuts txscript.PrevOutputFetcher, nIn int) (Checker, error) {

	ctx, err := newInputContext(tx, sigHashes, prevOuts, nIn)
	if err != nil {
		return nil, err
	}

	return &bitcoinCashChecker{ctx}, nil
}
