// btcsigner runs one signing core operation per invocation. The
// request is read as JSON from a file or stdin and the result is
// written as JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/wallet"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	if err := btcsignerMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func btcsignerMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if logFile := cfg.logFile(); logFile != "" {
		if err := initLogRotator(logFile); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	core, err := wallet.New(&wallet.Config{
		Network: cfg.Network,
		Crypter: keyvault.NewScryptCrypter(cfg.ScryptN),
	})
	if err != nil {
		return err
	}

	req, err := readRequest(cfg.RequestFile)
	if err != nil {
		return err
	}

	log.Debugf("Running %s on %s", cfg.Action, cfg.Network)
	result, err := dispatch(ctx, core, cfg.Action, cfg.Password, req)
	if err != nil {
		log.Errorf("%s failed: %v", cfg.Action, err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
