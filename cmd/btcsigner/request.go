package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/message"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/psbtsign"
	"github.com/btccom/btcsigncore/wallet"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// request is the JSON body of every action. Key material is taken
// in plain text and encrypted with the core's crypter straight away.
type request struct {
	Mnemonic string `json:"mnemonic,omitempty"`
	Xprv     string `json:"xprv,omitempty"`
	Xpub     string `json:"xpub,omitempty"`

	AccountPath     string                          `json:"accountPath,omitempty"`
	RelPaths        []string                        `json:"relPaths,omitempty"`
	PathToAddresses map[string]keyvault.PathAddress `json:"pathToAddresses,omitempty"`
	Encoding        string                          `json:"addressEncoding,omitempty"`

	Template string   `json:"template,omitempty"`
	Indexes  []uint32 `json:"indexes,omitempty"`

	EncodedTx *psbtsign.EncodedTx `json:"encodedTx,omitempty"`
	PrevTxs   map[string]string   `json:"prevTxs,omitempty"`
	SignOnly  bool                `json:"signOnly,omitempty"`

	Address    string              `json:"address,omitempty"`
	Path       string              `json:"path,omitempty"`
	Message    string              `json:"message,omitempty"`
	Type       string              `json:"type,omitempty"`
	SigOptions *message.SigOptions `json:"sigOptions,omitempty"`
	Signature  string              `json:"signature,omitempty"`
}

// txResult is a signing result with its state spelled out.
type txResult struct {
	*psbtsign.Result
	State       string `json:"state"`
	FinalizeErr string `json:"finalizeError,omitempty"`
}

// readRequest decodes the request in file, stdin for "-".
func readRequest(file string) (*request, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var req request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "invalid request")
	}
	return &req, nil
}

func (r *request) encoding() (network.AddressEncoding, error) {
	if r.Encoding == "" {
		return "", nil
	}
	return network.ParseEncoding(r.Encoding)
}

// encryptedEntropy turns the mnemonic into encrypted BIP39 entropy.
func encryptedEntropy(ctx context.Context, core *wallet.Core, mnemonic, password string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	defer zero(entropy)

	return core.Crypter().Encrypt(ctx, password, entropy)
}

// encryptedXprv encrypts the 78 byte serialization of xprv.
func encryptedXprv(ctx context.Context, core *wallet.Core, xprv, password string) ([]byte, error) {
	payload, err := bip32util.DecodeKeyPayload(xprv)
	if err != nil {
		return nil, err
	}
	defer zero(payload)

	return core.Crypter().Encrypt(ctx, password, payload)
}

// keyRequest builds the keyvault request of r from its mnemonic
// or xprv, whichever is given.
func (r *request) keyRequest(ctx context.Context, core *wallet.Core, password string) (*keyvault.Request, error) {
	if password == "" {
		return nil, errors.New("password is required")
	}

	enc, err := r.encoding()
	if err != nil {
		return nil, err
	}

	req := &keyvault.Request{
		Network:         core.Network(),
		Password:        password,
		AccountPath:     r.AccountPath,
		RelPaths:        r.RelPaths,
		PathToAddresses: r.PathToAddresses,
		Encoding:        enc,
	}

	switch {
	case r.Mnemonic != "" && r.Xprv != "":
		return nil, errors.New("mnemonic and xprv are exclusive")

	case r.Mnemonic != "":
		encrypted, err := encryptedEntropy(ctx, core, r.Mnemonic, password)
		if err != nil {
			return nil, err
		}
		req.Credentials = &keyvault.HDCredentials{EncryptedEntropy: encrypted}

	case r.Xprv != "":
		encrypted, err := encryptedXprv(ctx, core, r.Xprv, password)
		if err != nil {
			return nil, err
		}
		req.Credentials = &keyvault.ImportedCredentials{EncryptedXprv: encrypted}

	default:
		return nil, errors.New("mnemonic or xprv is required")
	}

	return req, nil
}

// dispatch runs action against core and returns its JSON result.
func dispatch(ctx context.Context, core *wallet.Core, action, password string, r *request) (interface{}, error) {
	enc, err := r.encoding()
	if err != nil {
		return nil, err
	}

	switch action {
	case actionXpubAddresses:
		return core.GetAddressFromXpub(r.Xpub, r.RelPaths, enc)

	case actionPublicAddress:
		return core.GetAddressFromPublic(r.Xpub, enc)

	case actionPrivateAddress:
		if password == "" {
			return nil, errors.New("password is required")
		}
		encrypted, err := encryptedXprv(ctx, core, r.Xprv, password)
		if err != nil {
			return nil, err
		}
		return core.GetAddressFromPrivate(ctx, password, encrypted, enc)

	case actionHdAddresses:
		if password == "" {
			return nil, errors.New("password is required")
		}
		encrypted, err := encryptedEntropy(ctx, core, r.Mnemonic, password)
		if err != nil {
			return nil, err
		}
		return core.GetAddressesFromHd(ctx, &wallet.HdAddressQuery{
			Template:         r.Template,
			Indexes:          r.Indexes,
			Password:         password,
			EncryptedEntropy: encrypted,
			Encoding:         enc,
		})

	case actionExport:
		req, err := r.keyRequest(ctx, core, password)
		if err != nil {
			return nil, err
		}
		xprv, err := core.GetExportedSecretKey(ctx, req, r.Xpub)
		if err != nil {
			return nil, err
		}
		return map[string]string{"xprv": xprv}, nil

	case actionXfp:
		req, err := r.keyRequest(ctx, core, password)
		if err != nil {
			return nil, err
		}
		xfp, err := core.BuildXfp(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]string{"xfp": xfp}, nil

	case actionSignTx:
		req, err := r.keyRequest(ctx, core, password)
		if err != nil {
			return nil, err
		}
		result, err := core.SignTransaction(ctx, &wallet.SignTxRequest{
			Request:   req,
			EncodedTx: r.EncodedTx,
			PrevTxs:   r.PrevTxs,
			SignOnly:  r.SignOnly,
		})
		if err != nil {
			return nil, err
		}

		out := &txResult{Result: result, State: result.State.String()}
		if result.FinalizeErr != nil {
			out.FinalizeErr = result.FinalizeErr.Error()
		}
		return out, nil

	case actionSignMessage:
		msgType, err := message.ParseType(r.Type)
		if err != nil {
			return nil, err
		}
		req, err := r.keyRequest(ctx, core, password)
		if err != nil {
			return nil, err
		}
		sig, err := core.SignMessage(ctx, &wallet.SignMessageRequest{
			Request:    req,
			Address:    r.Address,
			Path:       r.Path,
			Message:    r.Message,
			Type:       msgType,
			SigOptions: r.SigOptions,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"signature": sig}, nil

	case actionVerifyMessage:
		msgType, err := message.ParseType(r.Type)
		if err != nil {
			return nil, err
		}
		verify := message.VerifyStandard
		if msgType == message.TypeBIP322Simple {
			verify = message.VerifyBIP322Simple
		}
		if err := verify(core.Network(), r.Address, r.Message, r.Signature); err != nil {
			return nil, err
		}
		return map[string]bool{"valid": true}, nil

	case actionValidateXpub:
		enc, err := core.ValidateXpub(r.Xpub)
		if err != nil {
			return nil, err
		}
		return map[string]network.AddressEncoding{"addressEncoding": enc}, nil

	case actionValidateXprv:
		enc, err := core.ValidateXprv(r.Xprv)
		if err != nil {
			return nil, err
		}
		return map[string]network.AddressEncoding{"addressEncoding": enc}, nil

	case actionValidateAddress:
		info, err := core.ValidateAddress(r.Address)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"address":         info.Address.EncodeAddress(),
			"addressEncoding": string(info.Encoding),
			"script":          hex.EncodeToString(info.Script),
		}, nil
	}

	return nil, errors.Errorf("unknown action %s", action)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
