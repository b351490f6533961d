package wallet

import (
	"context"

	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/message"
	"github.com/btccom/btcsigncore/psbtsign"
	"github.com/btccom/btcsigncore/signer"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"
)

var (
	// ErrSignTxRelPaths is returned when a transaction
	// request names no key to sign with.
	ErrSignTxRelPaths = errors.New("BTC sign transaction need relPaths")

	// ErrInputsToSignRequired is returned when a supplied
	// PSBT does not say which of its inputs to sign.
	ErrInputsToSignRequired = errors.New("inputsToSign required with psbtHex")

	// ErrSignMessageRelPaths is returned when a message
	// request names no key to sign with.
	ErrSignMessageRelPaths = errors.New("BTC sign message need relPaths")
)

// SignTxRequest asks for a transaction to be signed.
type SignTxRequest struct {
	Request   *keyvault.Request
	EncodedTx *psbtsign.EncodedTx

	// PrevTxs maps txids to raw previous transactions,
	// needed by P2PKH inputs of wallet built transactions.
	PrevTxs map[string]string

	// SignOnly leaves the finalized PSBT unextracted.
	SignOnly bool
}

// keys resolves the signing keys of req.
func (c *Core) keys(ctx context.Context, req *keyvault.Request) (signer.Keys, error) {
	resolved, err := c.vault.PrivateKeysInFullPath(ctx, req)
	if err != nil {
		return nil, err
	}

	return signer.NewKeys(resolved, req.PathToAddresses, req.Password, c.vault.Crypter())
}

// SignTransaction signs an encoded transaction. A transaction
// carrying a PSBT is signed on the inputs it declares and
// finalized best effort. Any other transaction is built here,
// every input signed, verified and extracted.
func (c *Core) SignTransaction(ctx context.Context, sreq *SignTxRequest) (*psbtsign.Result, error) {
	req, err := c.request(sreq.Request)
	if err != nil {
		return nil, err
	}
	if len(req.RelPaths) == 0 {
		return nil, ErrSignTxRelPaths
	}
	if sreq.EncodedTx == nil {
		return nil, errors.New("encoded transaction is required")
	}
	encodedTx := sreq.EncodedTx
	if encodedTx.PsbtHex != "" && len(encodedTx.InputsToSign) == 0 {
		return nil, ErrInputsToSignRequired
	}
	defer req.Release()

	keys, err := c.keys(ctx, req)
	if err != nil {
		return nil, err
	}
	engine := psbtsign.NewEngine(c.net, keys)

	if encodedTx.PsbtHex != "" {
		p, err := psbtsign.DecodePsbtHex(encodedTx.PsbtHex)
		if err != nil {
			return nil, err
		}

		log.Debugf("Signing %d inputs of a supplied PSBT", len(encodedTx.InputsToSign))
		return engine.SignPsbt(ctx, encodedTx, p, encodedTx.InputsToSign, sreq.SignOnly)
	}

	lookup := func(ctx context.Context, addr string) (*btcec.PublicKey, error) {
		key, err := keys.Pick(addr)
		if err != nil {
			return nil, err
		}
		return key.PubKey(ctx)
	}

	p, err := psbtsign.Build(ctx, c.net, encodedTx, sreq.PrevTxs, lookup)
	if err != nil {
		return nil, err
	}

	inputs := make([]psbtsign.InputToSign, len(encodedTx.Inputs))
	for i, in := range encodedTx.Inputs {
		inputs[i] = psbtsign.InputToSign{Index: i, Address: in.Address}
	}

	return engine.SignAndExtract(ctx, encodedTx, p, inputs)
}

// SignMessageRequest asks for a message to be signed
// with the key of Address.
type SignMessageRequest struct {
	Request *keyvault.Request

	// Address and Path identify the signing key, Path
	// being its full path.
	Address string
	Path    string

	Message    string
	Type       message.Type
	SigOptions *message.SigOptions
}

// SignMessage signs a message as a standard compact signature or,
// for message.TypeBIP322Simple, as a BIP-322 simple witness.
func (c *Core) SignMessage(ctx context.Context, sreq *SignMessageRequest) (string, error) {
	req, err := c.request(sreq.Request)
	if err != nil {
		return "", err
	}
	if len(req.RelPaths) == 0 {
		return "", ErrSignMessageRelPaths
	}
	defer req.Release()

	msgType := sreq.Type
	if msgType == "" {
		msgType = message.TypeECDSA
	}
	if msgType != message.TypeECDSA && msgType != message.TypeBIP322Simple {
		return "", errors.Wrapf(message.ErrUnknownType, "%s", msgType)
	}

	if msgType == message.TypeBIP322Simple {
		if _, err := message.CheckBIP322Address(c.net, sreq.Address); err != nil {
			return "", err
		}
	}

	keys, err := c.keys(ctx, req)
	if err != nil {
		return "", err
	}
	key, err := keys.Pick(sreq.Address)
	if err != nil {
		return "", err
	}

	if msgType == message.TypeECDSA {
		return message.SignStandard(ctx, c.net, key, sreq.Message, sreq.SigOptions)
	}

	pub, err := key.PubKey(ctx)
	if err != nil {
		return "", err
	}
	account := &signer.Account{
		Path:    sreq.Path,
		Address: sreq.Address,
		PubKey:  pub,
	}

	return message.SignBIP322Simple(ctx, psbtsign.NewEngine(c.net, keys), account, sreq.Message)
}
