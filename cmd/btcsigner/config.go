package main

import (
	"os"
	"path/filepath"

	"github.com/btccom/btcsigncore/keyvault"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultNetwork     = "btc"
	defaultLogFilename = "btcsigner.log"
	defaultDebugLevel  = "info"
	defaultScryptN     = keyvault.DefaultScryptN
)

// Actions understood by the request dispatcher.
const (
	actionXpubAddresses   = "xpub-addresses"
	actionPublicAddress   = "public-address"
	actionPrivateAddress  = "private-address"
	actionHdAddresses     = "hd-addresses"
	actionExport          = "export"
	actionXfp             = "xfp"
	actionSignTx          = "sign-tx"
	actionSignMessage     = "sign-message"
	actionVerifyMessage   = "verify-message"
	actionValidateXpub    = "validate-xpub"
	actionValidateXprv    = "validate-xprv"
	actionValidateAddress = "validate-address"
)

type config struct {
	Network     string `short:"n" long:"network" description:"Network code (btc, tbtc, sbtc, rbtc, ltc, bch, doge)"`
	Action      string `short:"a" long:"action" required:"true" description:"Operation to run" choice:"xpub-addresses" choice:"public-address" choice:"private-address" choice:"hd-addresses" choice:"export" choice:"xfp" choice:"sign-tx" choice:"sign-message" choice:"verify-message" choice:"validate-xpub" choice:"validate-xprv" choice:"validate-address"`
	RequestFile string `short:"r" long:"request" description:"JSON request file, - for stdin"`
	Password    string `long:"password" env:"BTCSIGNER_PASSWORD" description:"Password the key material is encrypted with in flight"`
	LogDir      string `long:"logdir" description:"Directory to log output, none when empty"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical, off}"`
	ScryptN     int    `long:"scryptn" description:"scrypt cost of the in flight key encryption"`
}

// loadConfig parses args over the defaults. The password may
// come from BTCSIGNER_PASSWORD instead of the command line.
func loadConfig(args []string) (*config, error) {
	cfg := config{
		Network:     defaultNetwork,
		RequestFile: "-",
		DebugLevel:  defaultDebugLevel,
		ScryptN:     defaultScryptN,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.ScryptN < 2 || cfg.ScryptN&(cfg.ScryptN-1) != 0 {
		return nil, errors.Errorf("scryptn must be a power of two above 1, got %d", cfg.ScryptN)
	}

	if cfg.LogDir != "" {
		cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	}

	return &cfg, nil
}

// logFile is the rotated log path, empty when file logging is off.
func (c *config) logFile() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, c.Network, defaultLogFilename)
}

// cleanAndExpandPath expands a leading ~ and environment variables.
func cleanAndExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
