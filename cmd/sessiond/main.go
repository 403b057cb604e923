package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	anyllm "github.com/mozilla-ai/any-llm-go"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/config"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/idempotency"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/proposal"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/session"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region main
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	content, err := config.LoadContent(cfg.ContentPath)
	if err != nil {
		log.Fatalf("content: %v", err)
	}

	store, err := state.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	idem, err := idempotency.NewCoordinator(store.DB(), cfg.IdemTTL)
	if err != nil {
		log.Fatalf("failed to init idempotency: %v", err)
	}

	proposer, err := buildProposer(cfg)
	if err != nil {
		log.Fatalf("failed to init proposer: %v", err)
	}

	pipeline, err := session.New(store, idem, proposer, session.Options{
		Branches:      content.Branches,
		Rules:         content.BuildRuleTable(),
		MaxInputChars: cfg.MaxInputChars,
	})
	if err != nil {
		log.Fatalf("failed to wire pipeline: %v", err)
	}

	sessionID := sessionArg()
	if _, err := store.Head(sessionID); err != nil {
		log.Printf("no session %q, creating it", sessionID)
		if _, err := pipeline.Start(sessionID, content.SeedNPCs()); err != nil {
			log.Fatalf("failed to create session: %v", err)
		}
	}

	fmt.Println("Story session ready.")
	fmt.Printf("  DB: %s | Session: %s | Provider: %s\n", cfg.DBPath, sessionID, cfg.Provider)
	fmt.Println("Type what you do (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		out, err := pipeline.Step(ctx, session.StepInput{
			SessionID:  sessionID,
			IdemKey:    uuid.NewString(),
			PlayerText: line,
		})
		cancel()
		if err != nil {
			if errors.Is(err, proposal.ErrUnavailable) {
				log.Printf("upstream unavailable, nothing applied: %v", err)
			} else {
				log.Printf("step error: %v", err)
			}
			continue
		}

		printResult(out)
	}
}

// #endregion main

// #region helpers

// buildProposer maps the configured provider to a Proposer. "scripted"
// runs without network access and echoes a fixed narrative.
func buildProposer(cfg config.Config) (proposal.Proposer, error) {
	if cfg.Provider == "scripted" {
		return &proposal.Scripted{
			Default: proposal.Proposal{Narrative: "Nothing remarkable happens."},
		}, nil
	}

	var opts []anyllm.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllm.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllm.WithBaseURL(cfg.BaseURL))
	}
	return proposal.NewLLM(cfg.Provider, cfg.Model, opts...)
}

func sessionArg() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return "default"
}

func printResult(out session.StepResult) {
	switch {
	case out.Ended:
		fmt.Println("\nThe story has already ended.")
		return
	case out.Blocked:
		fmt.Printf("\nThat didn't land. (%s)\n\n", out.BlockReason)
		return
	}

	fmt.Printf("\n%s\n\n", out.Narrative)

	route := out.BranchID
	if route == "" {
		route = "(fallback)"
	}
	score := "-"
	if out.Affection != nil {
		score = fmt.Sprintf("%d (%+d)", out.Affection.Score, out.Affection.ScoreDelta)
	}
	clock := "-"
	if out.Delta != nil {
		clock = string(out.Delta.Slot)
	}
	fmt.Printf("[%s] route=%s score=%s slot=%s\n", out.StepID[:8], route, score, clock)
}

// #endregion helpers
