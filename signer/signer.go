// Package signer builds the per input signing capability:
// plain ECDSA, or schnorr with the BIP341 tweak applied at
// most once.
package signer

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

var (
	// ErrMissingInternalKey is returned when a taproot input
	// needs the tweak but carries no internal key.
	ErrMissingInternalKey = errors.New("taproot input requires tweak but has no internal key")

	// ErrInternalKeyMismatch is returned when the input's
	// internal key is not the signer's key.
	ErrInternalKeyMismatch = errors.New("taproot internal key does not belong to signer")

	// ErrOutputKeyMismatch is returned when the tweaked key
	// is not the output key of the spent utxo.
	ErrOutputKeyMismatch = errors.New("tweaked key does not match the taproot output key")
)

// Signer is either *Plain or *Tweaked.
type Signer interface {
	// PubKey is the key signatures verify against.
	PubKey() *btcec.PublicKey

	isSigner()
}

// Plain signs with ECDSA.
type Plain struct {
	key *Key
	pub *btcec.PublicKey
}

func (*Plain) isSigner() {}

// PubKey returns the signer's compressed key.
func (s *Plain) PubKey() *btcec.PublicKey {
	return s.pub
}

// Sign returns the low R ECDSA signature of hash.
func (s *Plain) Sign(ctx context.Context, hash []byte) (*ecdsa.Signature, error) {
	priv, err := s.key.PrivKey(ctx)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	return SignLowR(priv, hash), nil
}

// Tweaked signs with BIP340 schnorr. When tweak is set the private
// key is tweaked by the internal key and merkle root before each
// signature; otherwise the raw key signs, as for a leaf script.
type Tweaked struct {
	key        *Key
	tweak      bool
	merkleRoot []byte
	pub        *btcec.PublicKey
}

func (*Tweaked) isSigner() {}

// PubKey returns the output key when tweaking, else the raw key.
func (s *Tweaked) PubKey() *btcec.PublicKey {
	return s.pub
}

// XOnlyPubKey is PubKey in its BIP340 encoding.
func (s *Tweaked) XOnlyPubKey() []byte {
	return schnorr.SerializePubKey(s.pub)
}

// IsTweaked reports whether signatures use the tweaked key.
func (s *Tweaked) IsTweaked() bool {
	return s.tweak
}

// Sign returns the schnorr signature of hash.
func (s *Tweaked) Sign(ctx context.Context, hash []byte) (*schnorr.Signature, error) {
	priv, err := s.key.PrivKey(ctx)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	signingKey := priv
	if s.tweak {
		signingKey = txscript.TweakTaprootPrivKey(*priv, s.merkleRoot)
		defer signingKey.Zero()
	}

	return schnorr.Sign(signingKey, hash)
}

// TweakOverride lets a caller bypass tweak auto detection.
type TweakOverride struct {
	// Disable never tweaks.
	Disable bool

	// Force, when set, decides the tweak unless Disable is set.
	Force *bool
}

// needsTweak applies the decision table: Disable, then Force,
// then script path evidence.
func needsTweak(spend SpendType, override TweakOverride) bool {
	if override.Disable {
		return false
	}
	if override.Force != nil {
		return *override.Force
	}
	return spend != SpendScriptPath
}

// New builds the signer for key spending in. Non taproot inputs
// get a *Plain signer.
func New(ctx context.Context, key *Key, in *psbt.PInput, override TweakOverride) (Signer, error) {
	pub, err := key.PubKey(ctx)
	if err != nil {
		return nil, err
	}

	spend := ClassifyInput(in)
	if spend == SpendLegacy {
		return &Plain{key: key, pub: pub}, nil
	}

	if !needsTweak(spend, override) {
		return &Tweaked{key: key, pub: pub}, nil
	}

	if len(in.TaprootInternalKey) == 0 {
		return nil, ErrMissingInternalKey
	}
	if !bytes.Equal(in.TaprootInternalKey, schnorr.SerializePubKey(pub)) {
		return nil, ErrInternalKeyMismatch
	}

	outputKey := txscript.ComputeTaprootOutputKey(pub, in.TaprootMerkleRoot)
	if in.WitnessUtxo != nil && txscript.IsPayToTaproot(in.WitnessUtxo.PkScript) {
		if !bytes.Equal(in.WitnessUtxo.PkScript[2:], schnorr.SerializePubKey(outputKey)) {
			return nil, ErrOutputKeyMismatch
		}
	}

	return &Tweaked{
		key:        key,
		tweak:      true,
		merkleRoot: in.TaprootMerkleRoot,
		pub:        outputKey,
	}, nil
}
