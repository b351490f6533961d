package network

import (
	"bytes"

	"github.com/btccom/btcsigncore/sighash"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

const (
	// NetBtc is the constant for the bitcoin network
	NetBtc = "btc"

	// NetBtcTest = is the constant for the bitcoin testnet network
	NetBtcTest = "tbtc"

	// NetBtcSignet is the constant for the bitcoin signet network
	NetBtcSignet = "sbtc"

	// NetBtcRegtest is the constant for the bitcoin regtest network
	NetBtcRegtest = "rbtc"

	// NetLtc is the constant for the litecoin network
	NetLtc = "ltc"

	// NetBch is the constant for the bitcoin cash network
	NetBch = "bch"

	// NetDoge is the constant for the dogecoin network
	NetDoge = "doge"
)

const (
	btcMessagePrefix  = "\x18Bitcoin Signed Message:\n"
	ltcMessagePrefix  = "\x19Litecoin Signed Message:\n"
	dogeMessagePrefix = "\x19Dogecoin Signed Message:\n"
)

// ErrInvalidNetwork is returned for an unknown network code.
var ErrInvalidNetwork = errors.New("Invalid network")

// CheckNetwork validates that the network is valid
func CheckNetwork(network string) (string, error) {
	switch network {
	case NetBtc, NetBtcTest, NetBtcSignet, NetBtcRegtest,
		NetLtc, NetBch, NetDoge:
		return network, nil
	default:
		return "", errors.New("Network is invalid")
	}
}

// Network captures customizations which differ
// from network to network. It covers the obvious
// chainParams, but also has a network specific
// CheckerCreator (for signature validation), the
// BIP32 version bytes per address encoding and the
// message signing prefix.
type Network struct {
	// Code is the short network code, eg `btc`
	Code string

	// Params holds the networks chain params
	Params *chaincfg.Params

	// CheckerCreator holds a function implementing
	// the CheckerCreator interface, responsible
	// for producing a struct for sighashing, and
	// sig validation.
	CheckerCreator sighash.CheckerCreator

	// DefaultHashType differs on some networks, so
	// the default is held in this field.
	DefaultHashType txscript.SigHashType

	// SegwitEnabled toggles whether segwit support is
	// active
	SegwitEnabled bool

	// TaprootEnabled toggles P2TR addresses and signing
	TaprootEnabled bool

	// MessagePrefix is the varstr prefix of signed messages
	MessagePrefix string

	// Versions maps each supported encoding to
	// its extended key version bytes.
	Versions map[AddressEncoding]VersionBytes

	// PathFixEnabled makes key lookups retry the sibling coin
	// type (0' vs 1') of a taproot path. Indexers of test
	// networks report either.
	PathFixEnabled bool
}

// SupportsEncoding returns an *UnsupportedEncodingError when
// the network cannot build addresses for enc.
func (n *Network) SupportsEncoding(enc AddressEncoding) error {
	if _, ok := n.Versions[enc]; !ok {
		return &UnsupportedEncodingError{Network: n.Code, Encoding: enc}
	}
	if enc == EncodingP2TR && !n.TaprootEnabled {
		return &UnsupportedEncodingError{Network: n.Code, Encoding: enc}
	}
	if enc.IsSegwit() && !n.SegwitEnabled {
		return &UnsupportedEncodingError{Network: n.Code, Encoding: enc}
	}

	return nil
}

// VersionBytes returns the extended key version bytes for enc.
func (n *Network) VersionBytes(enc AddressEncoding) (VersionBytes, error) {
	if err := n.SupportsEncoding(enc); err != nil {
		return VersionBytes{}, err
	}

	return n.Versions[enc], nil
}

// EncodingFromVersion finds the encoding whose public or private
// version bytes equal version. xpub/xprv resolve to P2PKH.
func (n *Network) EncodingFromVersion(version []byte) (AddressEncoding, bool, error) {
	for _, enc := range encodingOrder {
		v, ok := n.Versions[enc]
		if !ok {
			continue
		}
		if bytes.Equal(v.Public[:], version) {
			return enc, false, nil
		}
		if bytes.Equal(v.Private[:], version) {
			return enc, true, nil
		}
	}

	return "", false, errors.Errorf("version bytes %x are not valid on %s", version, n.Code)
}

// DefaultEncoding is used when a caller gives no encoding
// and none can be inferred.
func (n *Network) DefaultEncoding() AddressEncoding {
	if n.SegwitEnabled {
		return EncodingP2WPKH
	}
	return EncodingP2PKH
}

var (
	mainnetVersions = map[AddressEncoding]VersionBytes{
		EncodingP2PKH:      newVersionBytes(0x0488b21e, 0x0488ade4),
		EncodingP2SHP2WPKH: newVersionBytes(0x049d7cb2, 0x049d7878),
		EncodingP2WPKH:     newVersionBytes(0x04b24746, 0x04b2430c),
		EncodingP2TR:       newVersionBytes(0x0488b21e, 0x0488ade4),
	}

	testnetVersions = map[AddressEncoding]VersionBytes{
		EncodingP2PKH:      newVersionBytes(0x043587cf, 0x04358394),
		EncodingP2SHP2WPKH: newVersionBytes(0x044a5262, 0x044a4e28),
		EncodingP2WPKH:     newVersionBytes(0x045f1cf6, 0x045f18bc),
		EncodingP2TR:       newVersionBytes(0x043587cf, 0x04358394),
	}

	ltcVersions = map[AddressEncoding]VersionBytes{
		EncodingP2PKH:      newVersionBytes(0x019da462, 0x019d9cfe),
		EncodingP2SHP2WPKH: newVersionBytes(0x01b26ef6, 0x01b26792),
		EncodingP2WPKH:     newVersionBytes(0x04b24746, 0x04b2430c),
	}

	bchVersions = map[AddressEncoding]VersionBytes{
		EncodingP2PKH: newVersionBytes(0x0488b21e, 0x0488ade4),
	}

	dogeVersions = map[AddressEncoding]VersionBytes{
		EncodingP2PKH: newVersionBytes(0x02facafd, 0x02fac398),
	}
)

// forkParams copies base and applies the fork's address
// and key prefixes. The copy is shallow.
func forkParams(base chaincfg.Params, name string, net wire.BitcoinNet,
	pkh, sh, wif byte, hrp string, versions VersionBytes, coinType uint32) *chaincfg.Params {

	params := base
	params.Name = name
	params.Net = net
	params.PubKeyHashAddrID = pkh
	params.ScriptHashAddrID = sh
	params.PrivateKeyID = wif
	params.Bech32HRPSegwit = hrp
	params.HDPublicKeyID = versions.Public
	params.HDPrivateKeyID = versions.Private
	params.HDCoinType = coinType
	return &params
}

var (
	// LtcParams are the litecoin mainnet chain params
	LtcParams = forkParams(chaincfg.MainNetParams, "litecoin", 0xdbb6c0fb,
		0x30, 0x32, 0xb0, "ltc", ltcVersions[EncodingP2PKH], 2)

	// DogeParams are the dogecoin mainnet chain params
	DogeParams = forkParams(chaincfg.MainNetParams, "dogecoin", 0xc0c0c0c0,
		0x1e, 0x16, 0x9e, "", dogeVersions[EncodingP2PKH], 3)
)

func init() {
	// Register the forks so btcutil can decode their
	// bech32 addresses and neuter their extended keys.
	for _, params := range []*chaincfg.Params{LtcParams, DogeParams} {
		err := chaincfg.Register(params)
		if err != nil && err != chaincfg.ErrDuplicateNet {
			panic(err)
		}
	}
}

var (
	// BtcNetwork defines the behaviour on the Bitcoin network
	BtcNetwork = &Network{
		Code:            NetBtc,
		Params:          &chaincfg.MainNetParams,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   true,
		TaprootEnabled:  true,
		MessagePrefix:   btcMessagePrefix,
		Versions:        mainnetVersions,
	}

	// BtcTestNetwork defines the behaviour on the Bitcoin testnet
	BtcTestNetwork = &Network{
		Code:            NetBtcTest,
		Params:          &chaincfg.TestNet3Params,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   true,
		TaprootEnabled:  true,
		MessagePrefix:   btcMessagePrefix,
		Versions:        testnetVersions,
		PathFixEnabled:  true,
	}

	// BtcSignetNetwork defines the behaviour on the Bitcoin signet
	BtcSignetNetwork = &Network{
		Code:            NetBtcSignet,
		Params:          &chaincfg.SigNetParams,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   true,
		TaprootEnabled:  true,
		MessagePrefix:   btcMessagePrefix,
		Versions:        testnetVersions,
		PathFixEnabled:  true,
	}

	// BtcRegtestNetwork defines the behaviour on the Bitcoin regtest network
	BtcRegtestNetwork = &Network{
		Code:            NetBtcRegtest,
		Params:          &chaincfg.RegressionNetParams,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   true,
		TaprootEnabled:  true,
		MessagePrefix:   btcMessagePrefix,
		Versions:        testnetVersions,
	}

	// LtcNetwork defines the behaviour on the Litecoin network
	LtcNetwork = &Network{
		Code:            NetLtc,
		Params:          LtcParams,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   true,
		MessagePrefix:   ltcMessagePrefix,
		Versions:        ltcVersions,
	}

	// BchNetwork defines the behaviour on the Bitcoin Cash network
	BchNetwork = &Network{
		Code:            NetBch,
		Params:          &chaincfg.MainNetParams,
		CheckerCreator:  sighash.BitcoinCashCheckerCreator,
		DefaultHashType: txscript.SigHashAll | sighash.SigHashBitcoinCash,
		SegwitEnabled:   false,
		MessagePrefix:   btcMessagePrefix,
		Versions:        bchVersions,
	}

	// DogeNetwork defines the behaviour on the Dogecoin network
	DogeNetwork = &Network{
		Code:            NetDoge,
		Params:          DogeParams,
		CheckerCreator:  sighash.BitcoinCheckerCreator,
		DefaultHashType: txscript.SigHashAll,
		SegwitEnabled:   false,
		MessagePrefix:   dogeMessagePrefix,
		Versions:        dogeVersions,
	}
)

// GetNetworkParams takes a network string shortcode
// and returns the *Network params
func GetNetworkParams(network string) (*Network, error) {
	switch network {
	case NetBtc:
		return BtcNetwork, nil
	case NetBtcTest:
		return BtcTestNetwork, nil
	case NetBtcSignet:
		return BtcSignetNetwork, nil
	case NetBtcRegtest:
		return BtcRegtestNetwork, nil
	case NetLtc:
		return LtcNetwork, nil
	case NetBch:
		return BchNetwork, nil
	case NetDoge:
		return DogeNetwork, nil
	}

	return nil, ErrInvalidNetwork
}
