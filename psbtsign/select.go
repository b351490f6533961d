package psbtsign

import (
	"bytes"
	"encoding/hex"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// InputsToSignFromPsbt declares every input of p spending an
// output of the account's address. Taproot inputs missing their
// internal key get the account's key.
func InputsToSignFromPsbt(p *psbt.Packet, account *signer.Account, net *network.Network) ([]InputToSign, error) {
	info, err := address.Decode(net, account.Address)
	if err != nil {
		return nil, err
	}

	var inputs []InputToSign
	for i := range p.Inputs {
		prevOut, err := prevOutput(p, i)
		if err != nil || !bytes.Equal(prevOut.PkScript, info.Script) {
			continue
		}

		input := InputToSign{Index: i, Address: account.Address}
		if account.PubKey != nil {
			input.PublicKey = hex.EncodeToString(account.PubKey.SerializeCompressed())

			pIn := &p.Inputs[i]
			if info.Encoding == network.EncodingP2TR && len(pIn.TaprootInternalKey) == 0 {
				pIn.TaprootInternalKey = schnorr.SerializePubKey(account.PubKey)
			}
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}
