package validator

import (
	"testing"

	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	_assert "github.com/stretchr/testify/require"
)

const (
	bip84Zpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"
	bip84Zprv = "zprvAdG4iTXWBoARxkkzNpNh8r6Qag3irQB8PzEMkAFeTRXxHpbF9z4QgEvBRmfvqWvGp42t42nvgGpNgYSJA9iefm1yYNZKEm7z6qUWCroSQnE"
	rootXprv  = "xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi"
)

func reencode(t *testing.T, key string, version [4]byte) string {
	k, err := hdkeychain.NewKeyFromString(key)
	_assert.NoError(t, err)
	out, err := bip32util.WithVersion(k, version[:])
	_assert.NoError(t, err)
	return out.String()
}

func TestValidateXpub(t *testing.T) {
	t.Run("zpub on mainnet", func(t *testing.T) {
		enc, err := ValidateXpub(network.BtcNetwork, bip84Zpub)
		_assert.NoError(t, err)
		_assert.Equal(t, network.EncodingP2WPKH, enc)
	})

	t.Run("vpub on testnet", func(t *testing.T) {
		vpub := reencode(t, bip84Zpub, network.BtcTestNetwork.Versions[network.EncodingP2WPKH].Public)
		_assert.Equal(t, "vpub", vpub[:4])

		enc, err := ValidateXpub(network.BtcTestNetwork, vpub)
		_assert.NoError(t, err)
		_assert.Equal(t, network.EncodingP2WPKH, enc)

		_, err = ValidateXpub(network.BtcNetwork, vpub)
		_assert.Equal(t, ErrInvalidPrefix, err)
	})

	t.Run("zpub on testnet", func(t *testing.T) {
		_, err := ValidateXpub(network.BtcTestNetwork, bip84Zpub)
		_assert.Equal(t, ErrInvalidPrefix, err)
	})

	t.Run("private key", func(t *testing.T) {
		_, err := ValidateXpub(network.BtcNetwork, bip84Zprv)
		_assert.Error(t, err)
	})

	t.Run("bad checksum", func(t *testing.T) {
		_, err := ValidateXpub(network.BtcNetwork, bip84Zpub[:len(bip84Zpub)-2]+"aa")
		_assert.Error(t, err)
	})

	t.Run("forks skip the prefix check", func(t *testing.T) {
		ltub := reencode(t, bip84Zpub, network.LtcNetwork.Versions[network.EncodingP2PKH].Public)
		enc, err := ValidateXpub(network.LtcNetwork, ltub)
		_assert.NoError(t, err)
		_assert.Equal(t, network.EncodingP2PKH, enc)
	})
}

func TestValidateXprv(t *testing.T) {
	enc, err := ValidateXprv(network.BtcNetwork, bip84Zprv)
	_assert.NoError(t, err)
	_assert.Equal(t, network.EncodingP2WPKH, enc)

	enc, err = ValidateXprv(network.BtcNetwork, rootXprv)
	_assert.NoError(t, err)
	_assert.Equal(t, network.EncodingP2PKH, enc)

	_, err = ValidateXprv(network.BtcNetwork, bip84Zpub)
	_assert.Equal(t, ErrInvalidPrefix, err)

	_, err = ValidateXprv(network.BtcTestNetwork, rootXprv)
	_assert.Equal(t, ErrInvalidPrefix, err)
}

func TestValidateAddress(t *testing.T) {
	info, err := ValidateAddress(network.BtcNetwork, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu")
	_assert.NoError(t, err)
	_assert.Equal(t, network.EncodingP2WPKH, info.Encoding)

	_, err = ValidateAddress(network.BtcNetwork, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyv")
	_assert.Error(t, err)
}
