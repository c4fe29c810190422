// Command ledgerctl inspects a persisted ledger without starting the API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"identity-ledger/encryption"
	"identity-ledger/logger"
	"identity-ledger/models"
	"identity-ledger/storage"
)

type options struct {
	Driver     string
	Dir        string
	SQLitePath string
	Scheme     string
	Keep       int
}

func parseFlags(args []string) (string, *options, error) {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.Driver, "driver", storage.DriverJSON, "Storage driver (json, sqlite)")
	fs.StringVar(&opts.Dir, "storage", "ledger_data", "Directory for ledger storage")
	fs.StringVar(&opts.SQLitePath, "sqlite", "", "SQLite database path")
	fs.StringVar(&opts.Scheme, "scheme", encryption.SchemeEd25519, "Signature scheme used by the ledger")
	fs.IntVar(&opts.Keep, "keep", 5, "Snapshots to keep")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if fs.NArg() != 1 {
		return "", nil, fmt.Errorf("usage: ledgerctl [flags] validate|export|snapshot")
	}
	return fs.Arg(0), opts, nil
}

func main() {
	logger.Init("ledgerctl", false)

	cmd, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cmd, opts); err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
	}
}

func run(cmd string, opts *options) error {
	provider, err := encryption.NewProvider(opts.Scheme)
	if err != nil {
		return err
	}
	store, err := storage.NewChainStore(storage.Options{Driver: opts.Driver, Dir: opts.Dir, SQLitePath: opts.SQLitePath})
	if err != nil {
		return err
	}
	defer store.Close()

	blocks, err := store.LoadChain()
	if err != nil {
		return err
	}

	switch cmd {
	case "validate":
		return validate(blocks, provider)
	case "export":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(blocks)
	case "snapshot":
		if err := validate(blocks, provider); err != nil {
			return err
		}
		snapshots, err := storage.NewSnapshotStore(opts.Dir, opts.Keep)
		if err != nil {
			return err
		}
		path, err := snapshots.Write(blocks)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Int("blocks", len(blocks)).Msg("Snapshot written")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func validate(blocks []models.Block, provider encryption.Provider) error {
	if err := models.ValidateChain(blocks, provider); err != nil {
		return err
	}
	if err := models.VerifyChainSignatures(blocks, provider); err != nil {
		return err
	}
	log.Info().Int("blocks", len(blocks)).Msg("Chain is valid")
	return nil
}
