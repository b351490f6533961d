package sighash

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

// TxSignature captures the parsed ecdsa.Signature
// and the signatures hashtype.
type TxSignature struct {
	HashType  txscript.SigHashType
	Signature *ecdsa.Signature
}

// ParseTxSignature takes a byte vector and parses
// a TxSignature struct
func ParseTxSignature(sig []byte) (*TxSignature, error) {
	if len(sig) < 1 {
		return nil, errors.New("TxSignature too short")
	}

	hashType := txscript.SigHashType(sig[len(sig)-1])
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return nil, err
	}

	return &TxSignature{
		HashType:  hashType,
		Signature: signature,
	}, nil
}

// Serialize will take the hashType and *ecdsa.Signature and
// produce the txin signature
func (sigInfo *TxSignature) Serialize() []byte {
	ecSig := sigInfo.Signature.Serialize()
	return append(ecSig, byte(sigInfo.HashType))
}

// SchnorrSignature is a BIP340 signature with the optional
// trailing sighash byte of BIP341.
type SchnorrSignature struct {
	HashType  txscript.SigHashType
	Signature *schnorr.Signature
}

// ParseSchnorrSignature accepts 64 byte signatures (SIGHASH_DEFAULT)
// and 65 byte ones carrying an explicit hash type.
func ParseSchnorrSignature(sig []byte) (*SchnorrSignature, error) {
	hashType := txscript.SigHashDefault
	switch len(sig) {
	case schnorr.SignatureSize:
	case schnorr.SignatureSize + 1:
		hashType = txscript.SigHashType(sig[schnorr.SignatureSize])
		if hashType == txscript.SigHashDefault {
			return nil, errors.New("explicit SIGHASH_DEFAULT byte is invalid")
		}
		sig = sig[:schnorr.SignatureSize]
	default:
		return nil, errors.Errorf("invalid schnorr signature length %d", len(sig))
	}

	signature, err := schnorr.ParseSignature(sig)
	if err != nil {
		return nil, err
	}

	return &SchnorrSignature{HashType: hashType, Signature: signature}, nil
}

// Serialize appends the hash type unless it is SIGHASH_DEFAULT.
func (s *SchnorrSignature) Serialize() []byte {
	out := s.Signature.Serialize()
	if s.HashType != txscript.SigHashDefault {
		out = append(out, byte(s.HashType))
	}
	return out
}

// ParsePublicKey accepts compressed and uncompressed keys.
func ParsePublicKey(keyBytes []byte) (*btcec.PublicKey, error) {
	if len(keyBytes) < btcec.PubKeyBytesLenCompressed {
		return nil, errors.New("Invalid length of public key")
	}

	switch keyBytes[0] {
	case 0x02, 0x03, 0x04:
	default:
		return nil, errors.New("Invalid prefix for public key")
	}

	pubKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key failed")
	}

	return pubKey, nil
}
