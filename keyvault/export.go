package keyvault

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/network"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
)

// firstTaprootPath is the account whose xpub identifies a seed.
const firstTaprootPath = "m/86'/0'/0'"

var (
	// ErrEncodingRequired is returned when exporting an
	// HD account without its address encoding.
	ErrEncodingRequired = errors.New("addressEncoding is required")

	// ErrXpubRequired is returned when exporting an
	// HD account without its xpub.
	ErrXpubRequired = errors.New("xpub is required")

	// ErrXpubKeyMismatch is returned when the xpub does not
	// belong to the request's account path.
	ErrXpubKeyMismatch = errors.New("xpub does not match the account key")
)

// ExportSecretKey returns the base58 xprv of the request's account.
// For HD accounts it is rebuilt from the account xpub, swapping in
// the private version bytes of the encoding and the private key.
func (v *Vault) ExportSecretKey(ctx context.Context, req *Request, xpub string) (string, error) {
	switch creds := req.Credentials.(type) {
	case *HDCredentials:
		if req.Encoding == "" {
			return "", ErrEncodingRequired
		}
		if xpub == "" {
			return "", ErrXpubRequired
		}
		return v.exportHD(ctx, req, creds, xpub)

	case *ImportedCredentials:
		payload, err := v.crypter.Decrypt(ctx, req.Password, creds.EncryptedXprv)
		if err != nil {
			return "", err
		}
		defer zero(payload)
		return bip32util.EncodeKeyPayload(payload)
	}

	return "", ErrUnknownCredentials
}

func (v *Vault) exportHD(ctx context.Context, req *Request, creds *HDCredentials, xpub string) (string, error) {
	versions, err := req.Network.VersionBytes(req.Encoding)
	if err != nil {
		return "", err
	}

	payload, err := bip32util.DecodeKeyPayload(xpub)
	if err != nil {
		return "", err
	}

	account, err := v.accountKey(ctx, req, creds)
	if err != nil {
		return "", err
	}

	pub, err := account.Key.ECPubKey()
	if err != nil {
		return "", err
	}
	if !bytes.Equal(payload[bip32util.SerializedKeyLen-33:], pub.SerializeCompressed()) {
		return "", ErrXpubKeyMismatch
	}

	priv, err := account.Key.ECPrivKey()
	if err != nil {
		return "", err
	}
	raw := priv.Serialize()
	defer zero(raw)
	defer priv.Zero()

	xprv, err := bip32util.ReplaceKeyMaterial(payload, versions.Private[:], raw)
	if err != nil {
		return "", err
	}
	defer zero(xprv)

	return bip32util.EncodeKeyPayload(xprv)
}

// AccountXpub returns the extended public key of an HD request's
// account, serialized with the public version bytes of enc, and
// its origin in the seed.
func (v *Vault) AccountXpub(ctx context.Context, req *Request, enc network.AddressEncoding) (*hdkeychain.ExtendedKey, *bip32util.KeyOrigin, error) {
	creds, ok := req.Credentials.(*HDCredentials)
	if !ok {
		return nil, nil, errors.New("account xpub requires hd credentials")
	}

	versions, err := req.Network.VersionBytes(enc)
	if err != nil {
		return nil, nil, err
	}

	master, err := v.masterKey(ctx, req, creds)
	if err != nil {
		return nil, nil, err
	}
	fingerprint, err := master.Fingerprint()
	master.Key.Zero()
	if err != nil {
		return nil, nil, err
	}

	account, err := v.accountKey(ctx, req, creds)
	if err != nil {
		return nil, nil, err
	}

	xpub, err := bip32util.NeuterWithVersion(account.Key, versions.Public[:])
	if err != nil {
		return nil, nil, err
	}

	return xpub, &bip32util.KeyOrigin{Fingerprint: fingerprint, Path: account.Path}, nil
}

// XpubFromXprv neuters an extended private key, keeping the
// encoding its version bytes imply.
func XpubFromXprv(net *network.Network, xprv string) (string, network.AddressEncoding, error) {
	payload, err := bip32util.DecodeKeyPayload(xprv)
	if err != nil {
		return "", "", err
	}
	defer zero(payload)

	enc, private, err := net.EncodingFromVersion(bip32util.PayloadVersion(payload))
	if err != nil {
		return "", "", err
	}
	if !private {
		return "", "", errors.New("extended private key is required")
	}

	key, err := bip32util.KeyFromPayload(payload)
	if err != nil {
		return "", "", err
	}

	versions := net.Versions[enc]
	xpub, err := bip32util.NeuterWithVersion(key, versions.Public[:])
	if err != nil {
		return "", "", err
	}

	return xpub.String(), enc, nil
}

// Xfp identifies the seed behind an HD account.
type Xfp struct {
	// Fingerprint is the hex master key fingerprint
	Fingerprint string

	// FirstTaprootXpub is the xpub of m/86'/0'/0'
	FirstTaprootXpub string
}

// String renders the full xfp, `<fingerprint>--<first taproot xpub>`.
func (x *Xfp) String() string {
	return x.Fingerprint + "--" + x.FirstTaprootXpub
}

// BuildXfp returns the master fingerprint and first taproot xpub
// of an HD request's seed. Both are mainnet values regardless of
// the request's network.
func (v *Vault) BuildXfp(ctx context.Context, req *Request) (*Xfp, error) {
	creds, ok := req.Credentials.(*HDCredentials)
	if !ok {
		return nil, errors.New("xfp requires hd credentials")
	}

	mainnet := &Request{Network: network.BtcNetwork, Password: req.Password}
	master, err := v.masterKey(ctx, mainnet, creds)
	if err != nil {
		return nil, err
	}
	defer master.Key.Zero()

	fingerprint, err := master.Fingerprint()
	if err != nil {
		return nil, err
	}

	path, err := bip32util.NewPathFromString(firstTaprootPath)
	if err != nil {
		return nil, err
	}

	key := master
	for _, sequence := range path.Path {
		key, err = key.Child(sequence)
		if err != nil {
			return nil, err
		}
	}
	defer key.Key.Zero()

	versions := network.BtcNetwork.Versions[network.EncodingP2TR]
	xpub, err := bip32util.NeuterWithVersion(key.Key, versions.Public[:])
	if err != nil {
		return nil, err
	}

	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], fingerprint)

	return &Xfp{
		Fingerprint:      hex.EncodeToString(fp[:]),
		FirstTaprootXpub: xpub.String(),
	}, nil
}
