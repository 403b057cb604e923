package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/config"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/replay"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to sessions.db (DB mode)")
	sessionID := flag.String("session", "", "session id to replay (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	contentPath := flag.String("content", "", "story content YAML for branch definitions (DB mode)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/sessions.db --session id [--content content.yaml]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var fixture *replay.Fixture
	var err error
	if *fixturePath != "" {
		fixture, err = replay.LoadFixture(*fixturePath)
	} else {
		fixture, err = loadFromDB(*dbPath, *sessionID, *contentPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	os.Exit(run(fixture))
}

// #endregion main

// #region db-mode

func loadFromDB(dbPath, sessionID, contentPath string) (*replay.Fixture, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("--session is required in DB mode")
	}

	content, err := config.LoadContent(contentPath)
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	return replay.Export(store.DB(), sessionID, content.Branches)
}

// #endregion db-mode

// #region run

func run(fixture *replay.Fixture) int {
	outcomes := replay.Replay(fixture, replay.DefaultConfig())

	fmt.Printf("%-12s| %-10s| %-14s| %s\n", "Step", "Route", "Score", "Match")
	fmt.Printf("%-12s+%-11s+%-15s+%s\n",
		"------------", "-----------", "---------------", "------")

	for _, o := range outcomes {
		route := o.BranchID
		switch {
		case o.Blocked:
			route = "(blocked)"
		case route == "":
			route = "(fallback)"
		}
		match := "OK"
		if len(o.Divergences) > 0 {
			match = "DIFF"
		}
		fmt.Printf("%-12s| %-10s| %-14d| %s\n", o.StepID, route, o.Score, match)
		for _, d := range o.Divergences {
			fmt.Printf("    %s\n", d)
		}
	}

	summary := replay.Summarize(outcomes, outcomes[len(outcomes)-1].State)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n",
		summary.TotalSteps, summary.Matched, summary.Diverged)
	fmt.Printf("Final: day %d %s, score %d\n",
		summary.FinalState.Day, summary.FinalState.Slot, summary.FinalState.Companion.Score)

	if summary.Diverged > 0 {
		return 1
	}
	return 0
}

// #endregion run
