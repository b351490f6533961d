package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/btccom/btcsigncore/address"
	"github.com/btccom/btcsigncore/bip32util"
	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/network"
	"github.com/btccom/btcsigncore/validator"
	"github.com/pkg/errors"
)

// firstRelPath is the address an account is identified by.
const firstRelPath = "0/0"

// indexPlaceholder marks the account index in a path template,
// eg m/84'/0'/$$INDEX$$'/0/0.
const indexPlaceholder = "$$INDEX$$"

// AddressItem describes an account through its first address.
type AddressItem struct {
	Address    string            `json:"address"`
	PublicKey  string            `json:"publicKey"`
	Path       string            `json:"path,omitempty"`
	RelPath    string            `json:"relPath,omitempty"`
	Xpub       string            `json:"xpub"`
	XpubSegwit string            `json:"xpubSegwit,omitempty"`
	Addresses  map[string]string `json:"addresses"`
}

// GetAddressFromXpub derives the addresses of relPaths under xpub.
func (c *Core) GetAddressFromXpub(xpub string, relPaths []string, enc network.AddressEncoding) (*address.XpubAddresses, error) {
	return address.FromXpub(c.net, xpub, relPaths, enc)
}

// GetAddressFromPublic describes an xpub account. Accounts are
// always given by xpub, never by a single public key, so only
// the first address is returned and PublicKey stays empty.
func (c *Core) GetAddressFromPublic(xpub string, enc network.AddressEncoding) (*AddressItem, error) {
	derived, err := address.FromXpub(c.net, xpub, []string{firstRelPath}, enc)
	if err != nil {
		return nil, err
	}

	return &AddressItem{
		Address:    derived.Addresses[firstRelPath],
		Xpub:       xpub,
		XpubSegwit: derived.XpubSegwit,
		Addresses:  derived.Addresses,
	}, nil
}

// GetAddressFromPrivate describes an imported account given
// its password encrypted 78 byte xprv serialization.
func (c *Core) GetAddressFromPrivate(ctx context.Context, password string, encryptedXprv []byte,
	enc network.AddressEncoding) (*AddressItem, error) {

	payload, err := c.vault.Crypter().Decrypt(ctx, password, encryptedXprv)
	if err != nil {
		return nil, err
	}
	xprv, err := bip32util.EncodeKeyPayload(payload)
	for i := range payload {
		payload[i] = 0
	}
	if err != nil {
		return nil, err
	}

	xpub, _, err := keyvault.XpubFromXprv(c.net, xprv)
	if err != nil {
		return nil, err
	}

	pub, err := address.PublicKeyFromXpub(c.net, xpub, firstRelPath)
	if err != nil {
		return nil, err
	}

	derived, err := address.FromXpub(c.net, xpub, []string{firstRelPath}, enc)
	if err != nil {
		return nil, err
	}

	return &AddressItem{
		Address:    derived.Addresses[firstRelPath],
		PublicKey:  pub,
		RelPath:    firstRelPath,
		Xpub:       xpub,
		XpubSegwit: derived.XpubSegwit,
		Addresses:  derived.Addresses,
	}, nil
}

// HdAddressQuery asks for the accounts at indexes of an HD seed.
type HdAddressQuery struct {
	// Template is the path of an account's first address
	// with the account index replaced by $$INDEX$$.
	Template string

	Indexes          []uint32
	Password         string
	EncryptedEntropy []byte
	Encoding         network.AddressEncoding
}

// accountPathPrefix returns the template up to the account level,
// eg m/84'/0' for m/84'/0'/$$INDEX$$'/0/0.
func accountPathPrefix(template string) (string, error) {
	idx := strings.Index(template, "/"+indexPlaceholder)
	if idx < 0 {
		return "", errors.Errorf("template %s has no %s", template, indexPlaceholder)
	}
	return template[:idx], nil
}

// GetAddressesFromHd describes the hardened accounts at each index
// of an HD seed: account xpub, its segwit or descriptor form and
// the first address with its public key.
func (c *Core) GetAddressesFromHd(ctx context.Context, query *HdAddressQuery) ([]*AddressItem, error) {
	prefix, err := accountPathPrefix(query.Template)
	if err != nil {
		return nil, err
	}
	if err := c.net.SupportsEncoding(query.Encoding); err != nil {
		return nil, err
	}

	req := &keyvault.Request{
		Network:     c.net,
		Password:    query.Password,
		Credentials: &keyvault.HDCredentials{EncryptedEntropy: query.EncryptedEntropy},
		Encoding:    query.Encoding,
	}
	defer req.Release()

	items := make([]*AddressItem, 0, len(query.Indexes))
	for _, index := range query.Indexes {
		req.AccountPath = fmt.Sprintf("%s/%d'", prefix, index)

		xpubKey, origin, err := c.vault.AccountXpub(ctx, req, query.Encoding)
		if err != nil {
			return nil, errors.Wrapf(err, "account %d", index)
		}
		xpub := xpubKey.String()

		derived, err := address.FromXpub(c.net, xpub, []string{firstRelPath}, query.Encoding)
		if err != nil {
			return nil, err
		}

		xpubSegwit, err := address.XpubSegwit(c.net, xpubKey, query.Encoding, origin)
		if err != nil {
			return nil, err
		}

		items = append(items, &AddressItem{
			Address:    derived.Addresses[firstRelPath],
			PublicKey:  derived.PublicKeys[firstRelPath],
			Path:       req.AccountPath,
			RelPath:    firstRelPath,
			Xpub:       xpub,
			XpubSegwit: xpubSegwit,
			Addresses:  derived.Addresses,
		})
	}

	log.Debugf("Derived %d %s accounts under %s", len(items), query.Encoding, prefix)
	return items, nil
}

// GetExportedSecretKey returns the account xprv of req. HD
// accounts need their xpub and req.Encoding.
func (c *Core) GetExportedSecretKey(ctx context.Context, req *keyvault.Request, xpub string) (string, error) {
	req, err := c.request(req)
	if err != nil {
		return "", err
	}
	defer req.Release()

	return c.vault.ExportSecretKey(ctx, req, xpub)
}

// BuildXfp returns `<fingerprint>--<first taproot xpub>` for
// the seed of an HD request.
func (c *Core) BuildXfp(ctx context.Context, req *keyvault.Request) (string, error) {
	req, err := c.request(req)
	if err != nil {
		return "", err
	}

	xfp, err := c.vault.BuildXfp(ctx, req)
	if err != nil {
		return "", err
	}

	return xfp.String(), nil
}

// ValidateXpub returns the encoding of a valid xpub.
func (c *Core) ValidateXpub(xpub string) (network.AddressEncoding, error) {
	return validator.ValidateXpub(c.net, xpub)
}

// ValidateXprv returns the encoding of a valid xprv.
func (c *Core) ValidateXprv(xprv string) (network.AddressEncoding, error) {
	return validator.ValidateXprv(c.net, xprv)
}

// ValidateAddress decodes and classifies addr.
func (c *Core) ValidateAddress(addr string) (*address.Info, error) {
	return validator.ValidateAddress(c.net, addr)
}
