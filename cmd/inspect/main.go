package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/steplog"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to sessions.db")
	sessionID := flag.String("session", "", "session id (omit to list sessions)")
	last := flag.Int("last", 20, "show N most recent versions")
	jsonOut := flag.Bool("json", false, "output as JSON instead of tables")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/sessions.db [--session id] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *sessionID == "" {
		err = listSessions(store, *jsonOut)
	} else {
		err = showSession(store, *sessionID, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-sessions

func listSessions(store *state.Store, jsonOut bool) error {
	ids, err := store.Sessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no sessions found")
		return nil
	}
	if jsonOut {
		return printJSON(ids)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// #endregion list-sessions

// #region show-session

type sessionView struct {
	SessionID string             `json:"session_id"`
	Head      versionRow         `json:"head"`
	Resources map[string]float64 `json:"resources"`
	NPCs      []npcRow           `json:"npcs"`
	Chain     []versionRow       `json:"chain"`
	StepLog   []stepRow          `json:"step_log"`
}

type versionRow struct {
	VersionID string `json:"version_id"`
	StepIndex int    `json:"step_index"`
	Day       int    `json:"day"`
	Slot      string `json:"slot"`
	Phase     string `json:"phase"`
	CreatedAt string `json:"created_at"`
}

type npcRow struct {
	ID           string  `json:"id"`
	Affection    float64 `json:"affection"`
	Trust        float64 `json:"trust"`
	RelationTier string  `json:"relation_tier"`
}

type stepRow struct {
	StepID       string `json:"step_id"`
	Decision     string `json:"decision"`
	BranchID     string `json:"branch_id,omitempty"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
	BlockReason  string `json:"block_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func showSession(store *state.Store, sessionID string, last int, jsonOut bool) error {
	head, err := store.Head(sessionID)
	if err != nil {
		return err
	}
	chain, err := store.Chain(sessionID)
	if err != nil {
		return err
	}
	entries, err := steplog.List(store.DB(), sessionID)
	if err != nil {
		return err
	}

	if len(chain) > last {
		chain = chain[len(chain)-last:]
	}
	if len(entries) > last {
		entries = entries[len(entries)-last:]
	}

	view := sessionView{
		SessionID: sessionID,
		Head:      toVersionRow(head),
		Resources: head.State.Resources,
		NPCs:      toNpcRows(head),
	}
	for _, v := range chain {
		view.Chain = append(view.Chain, toVersionRow(v))
	}
	for _, e := range entries {
		view.StepLog = append(view.StepLog, stepRow{
			StepID:       e.StepID,
			Decision:     e.Decision,
			BranchID:     e.BranchID,
			FallbackUsed: e.FallbackUsed,
			BlockReason:  e.BlockReason,
			CreatedAt:    e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	if jsonOut {
		return printJSON(view)
	}
	printView(view, head)
	return nil
}

func toVersionRow(v state.Version) versionRow {
	return versionRow{
		VersionID: v.VersionID,
		StepIndex: v.State.Run.StepIndex,
		Day:       v.State.Day,
		Slot:      string(v.State.Slot),
		Phase:     string(v.State.Run.Phase),
		CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func toNpcRows(head state.Version) []npcRow {
	rows := make([]npcRow, 0, len(head.State.NPCs))
	for id, n := range head.State.NPCs {
		rows = append(rows, npcRow{
			ID:           id,
			Affection:    n.Affection,
			Trust:        n.Trust,
			RelationTier: string(n.RelationTier),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// #endregion show-session

// #region output

func printView(view sessionView, head state.Version) {
	fmt.Printf("Session:  %s\n", view.SessionID)
	fmt.Printf("Head:     %s (step %d, day %d %s, %s)\n",
		shortID(view.Head.VersionID), view.Head.StepIndex, view.Head.Day, view.Head.Slot, view.Head.Phase)
	fmt.Printf("Score:    %d\n", head.State.Companion.Score)
	if head.State.Run.Ending != nil {
		fmt.Printf("Ending:   %s (%s)\n", head.State.Run.Ending.ID, head.State.Run.Ending.Outcome)
	}

	fmt.Printf("\nResources:\n")
	names := make([]string, 0, len(view.Resources))
	for name := range view.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %.1f\n", name, view.Resources[name])
	}

	if len(view.NPCs) > 0 {
		fmt.Printf("\nNPCs:\n")
		fmt.Printf("  %-12s %9s  %9s  %s\n", "ID", "Affection", "Trust", "Tier")
		for _, n := range view.NPCs {
			fmt.Printf("  %-12s %9.1f  %9.1f  %s\n", n.ID, n.Affection, n.Trust, n.RelationTier)
		}
	}

	fmt.Printf("\nVersions:\n")
	fmt.Printf("  %-10s %5s  %4s  %-10s %s\n", "Version", "Step", "Day", "Slot", "Time")
	for _, v := range view.Chain {
		fmt.Printf("  %-10s %5d  %4d  %-10s %s\n",
			shortID(v.VersionID), v.StepIndex, v.Day, v.Slot, v.CreatedAt)
	}

	if len(view.StepLog) > 0 {
		fmt.Printf("\nStep log:\n")
		fmt.Printf("  %-10s %-10s %-12s %s\n", "Step", "Decision", "Branch", "Note")
		for _, s := range view.StepLog {
			note := s.BlockReason
			if s.FallbackUsed {
				note = "fallback"
			}
			branch := s.BranchID
			if branch == "" {
				branch = "-"
			}
			fmt.Printf("  %-10s %-10s %-12s %s\n", shortID(s.StepID), s.Decision, branch, note)
		}
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
