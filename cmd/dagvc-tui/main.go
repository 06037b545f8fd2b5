// Command dagvc-tui browses an archived version history: the version list,
// the nodes of each version, the diff against the previous version and the
// recovery bundles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/config"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

func main() {
	dir := flag.String("dir", "./data/archive", "archive directory written by dagvc-server")
	configPath := flag.String("config", "", "server config; its archive dir and encryption keys are used")
	flag.Parse()

	var ring archive.Sealer
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dagvc-tui: %v\n", err)
			os.Exit(1)
		}
		*dir = cfg.Archive.Dir
		if cfg.Archive.Encryption.Enabled() {
			if ring, err = cfg.Archive.Encryption.Keyring(); err != nil {
				fmt.Fprintf(os.Stderr, "dagvc-tui: %v\n", err)
				os.Exit(1)
			}
		}
	}

	store, err := load(*dir, ring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dagvc-tui: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(store), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dagvc-tui: %v\n", err)
		os.Exit(1)
	}
}

// load hydrates a store from a file archive, opening sealed objects with
// sealer when it is non-nil. Corrupt objects are skipped and reported once
// the rest has loaded.
func load(dir string, sealer archive.Sealer) (*versionstore.Store, error) {
	fb, err := archive.NewFileBackend(dir)
	if err != nil {
		return nil, err
	}
	defer fb.Close()

	var backend archive.Backend = fb
	if sealer != nil {
		backend = archive.NewEncryptedBackend(fb, sealer)
	}

	store := versionstore.New(versionstore.WithLogger(logging.NewNopLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := archive.New(backend, archive.WithLogger(logging.NewNopLogger()))
	snaps, bundles, err := a.Hydrate(ctx, store)
	if err != nil && snaps == 0 && bundles == 0 {
		return nil, fmt.Errorf("loading %s: %w", dir, err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dagvc-tui: some objects were skipped: %v\n", err)
	}
	return store, nil
}
