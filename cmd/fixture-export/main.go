package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/config"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/replay"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to sessions.db")
	sessionID := flag.String("session", "", "session id to export")
	contentPath := flag.String("content", "", "story content YAML for branch definitions")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *sessionID == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/sessions.db --session id --out fixture.json [--content content.yaml]")
		os.Exit(2)
	}

	if err := run(*dbPath, *sessionID, *contentPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath, sessionID, contentPath, outPath string) error {
	content, err := config.LoadContent(contentPath)
	if err != nil {
		return err
	}

	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	fixture, err := replay.Export(store.DB(), sessionID, content.Branches)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d steps)\n", outPath, len(data), len(fixture.Steps))
	return nil
}

// #endregion export
