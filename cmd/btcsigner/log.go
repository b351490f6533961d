package main

import (
	"os"
	"path/filepath"

	"github.com/btccom/btcsigncore/keyvault"
	"github.com/btccom/btcsigncore/message"
	"github.com/btccom/btcsigncore/psbtsign"
	"github.com/btccom/btcsigncore/wallet"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

// logWriter writes to stderr and, once initialized, the log rotator.
// stdout is reserved for the JSON result.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is nil until initLogRotator is called.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("SGNR")
	wlltLog = backendLog.Logger("WLLT")
	psbtLog = backendLog.Logger("PSBT")
	kvltLog = backendLog.Logger("KVLT")
	msgsLog = backendLog.Logger("MSGS")
)

func init() {
	wallet.UseLogger(wlltLog)
	psbtsign.UseLogger(psbtLog)
	keyvault.UseLogger(kvltLog)
	message.UseLogger(msgsLog)
}

// subsystemLoggers maps each subsystem tag to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"SGNR": log,
	"WLLT": wlltLog,
	"PSBT": psbtLog,
	"KVLT": kvltLog,
	"MSGS": msgsLog,
}

// initLogRotator creates the log directory and starts
// rotating logFile every 10 MB, keeping 3 rolls.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}

	logRotator = r
	return nil
}

// setLogLevels sets every subsystem logger to debugLevel.
func setLogLevels(debugLevel string) error {
	level, ok := btclog.LevelFromString(debugLevel)
	if !ok {
		return errors.Errorf("invalid debug level %q", debugLevel)
	}

	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
