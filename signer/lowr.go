package signer

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// SignLowR signs hash with an RFC6979 nonce, grinding the nonce
// until R serializes without its high bit, so the DER encoding is
// at most 71 bytes. The first attempt uses no extra data and each
// retry passes a little endian counter as the extra nonce input,
// which reproduces the signatures of Bitcoin Core.
func SignLowR(priv *btcec.PrivateKey, hash []byte) *ecdsa.Signature {
	privBytes := priv.Key.Bytes()
	defer func() {
		for i := range privBytes {
			privBytes[i] = 0
		}
	}()

	var e secp256k1.ModNScalar
	e.SetByteSlice(hash)

	var extra [32]byte
	for counter := uint32(0); ; counter++ {
		var extraData []byte
		if counter > 0 {
			binary.LittleEndian.PutUint32(extra[:4], counter)
			extraData = extra[:]
		}

		k := secp256k1.NonceRFC6979(privBytes[:], hash, extraData, nil, 0)
		r, s, ok := signWithNonce(&priv.Key, k, &e)
		k.Zero()
		if !ok {
			continue
		}

		if rBytes := r.Bytes(); rBytes[0]&0x80 != 0 {
			continue
		}

		return ecdsa.NewSignature(r, s)
	}
}

// signWithNonce computes r = (kG).x mod N and the low S value of
// s = k^-1 (e + d r) mod N. ok is false when r or s is zero.
func signWithNonce(d, k, e *secp256k1.ModNScalar) (r, s *secp256k1.ModNScalar, ok bool) {
	var kG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &kG)
	kG.ToAffine()

	r = new(secp256k1.ModNScalar)
	r.SetByteSlice(kG.X.Bytes()[:])
	if r.IsZero() {
		return nil, nil, false
	}

	kInv := new(secp256k1.ModNScalar).InverseValNonConst(k)
	s = new(secp256k1.ModNScalar).Mul2(d, r).Add(e).Mul(kInv)
	if s.IsZero() {
		return nil, nil, false
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	return r, s, true
}
