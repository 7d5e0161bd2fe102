package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/emergence"
	"github.com/ppiankov/swarmgate/internal/model"
)

func init() {
	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a built-in emergence demo",
	Long:  "Builds a synthetic isolated run and a synthetic coordinated run in memory,\nfeeds both through the emergence analyzer, and prints the report.\nNo running core and no evidence store required.",
	RunE:  runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	now := time.Now().UTC()

	// Isolated run: two agents working alone, each finds one path.
	isolated := []model.DecisionRecord{
		demoRecord("scout-1", "10.0.5.10:443", "web_scan", nil, nil, model.RunIsolated, now),
		demoRecord("scout-2", "10.0.5.20:22", "ssh_probe", nil, nil, model.RunIsolated, now),
	}

	// Coordinated run: the same two paths, plus a three-hop chain where each
	// hop consults the previous hop's finding.
	recon := uuid.NewString()
	foothold := uuid.NewString()
	coordinated := []model.DecisionRecord{
		demoRecord("scout-1", "10.0.5.10:443", "web_scan", nil, nil, model.RunCoordinated, now),
		demoRecord("scout-2", "10.0.5.20:22", "ssh_probe", nil, nil, model.RunCoordinated, now),
		demoRecord("scout-1", "10.0.5.30", "port_scan", nil, []string{recon}, model.RunCoordinated, now),
		demoRecord("exploit-1", "10.0.5.30:8080", "http_exploit", []string{recon}, []string{foothold}, model.RunCoordinated, now.Add(time.Minute)),
		demoRecord("pivot-1", "10.0.6.40", "lateral_move", []string{foothold}, nil, model.RunCoordinated, now.Add(2*time.Minute)),
	}

	fmt.Println("Synthetic runs: isolated=2 records, coordinated=5 records")
	fmt.Println()
	printAnalysis(emergence.Analyze(isolated, coordinated))
	return nil
}

func demoRecord(agent, target, tool string, consulted, emitted []string, run model.RunID, ts time.Time) model.DecisionRecord {
	ctx := consulted
	if len(ctx) == 0 {
		ctx = []string{"tasking:" + agent}
	}
	return model.DecisionRecord{
		ActionID:        uuid.NewString(),
		AgentID:         agent,
		Target:          target,
		Tool:            tool,
		Outcome:         model.VerdictAllow,
		DecisionContext: ctx,
		EmittedSignals:  emitted,
		RunID:           run,
		Timestamp:       ts,
	}
}
