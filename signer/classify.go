package signer

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// SpendType is how an input will be spent, decided
// once per input.
type SpendType int

const (
	// SpendLegacy is any non taproot input, signed with ECDSA.
	SpendLegacy SpendType = iota

	// SpendKeyPath is a taproot key path spend.
	SpendKeyPath

	// SpendScriptPath is a taproot spend revealing a leaf
	// script and its control block.
	SpendScriptPath
)

func (s SpendType) String() string {
	switch s {
	case SpendLegacy:
		return "legacy"
	case SpendKeyPath:
		return "keypath"
	case SpendScriptPath:
		return "scriptpath"
	}
	return "unknown"
}

// IsTaprootInput is true when any taproot field is set or the
// witness utxo pays to a taproot output.
func IsTaprootInput(in *psbt.PInput) bool {
	if len(in.TaprootInternalKey) > 0 || len(in.TaprootMerkleRoot) > 0 ||
		len(in.TaprootLeafScript) > 0 || len(in.TaprootBip32Derivation) > 0 {
		return true
	}

	return in.WitnessUtxo != nil && txscript.IsPayToTaproot(in.WitnessUtxo.PkScript)
}

// ClassifyInput decides the spend type of a PSBT input. A taproot
// input carrying a leaf script with its control block and no
// merkle root is a script path spend.
func ClassifyInput(in *psbt.PInput) SpendType {
	if !IsTaprootInput(in) {
		return SpendLegacy
	}

	if len(in.TaprootMerkleRoot) == 0 {
		for _, leaf := range in.TaprootLeafScript {
			if len(leaf.ControlBlock) > 0 && len(leaf.Script) > 0 {
				return SpendScriptPath
			}
		}
	}

	return SpendKeyPath
}
