package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/config"
	"github.com/ppiankov/swarmgate/internal/emergence"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/model"
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute the emergence report from recorded runs",
	Long:  "Compares the isolated run's attack paths against the coordinated run's and\nreports novel chains, the emergence score, and the deepest chain.\nBoth runs must already be recorded in the evidence store.",
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	store, err := evidence.OpenStore(cfg.Evidence.DBPath)
	if err != nil {
		return fmt.Errorf("open evidence store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	isolated, err := store.ListByRun(ctx, model.RunIsolated)
	if err != nil {
		return fmt.Errorf("load isolated run: %w", err)
	}
	coordinated, err := store.ListByRun(ctx, model.RunCoordinated)
	if err != nil {
		return fmt.Errorf("load coordinated run: %w", err)
	}

	analysis := emergence.Analyze(isolated, coordinated)
	printAnalysis(analysis)
	return nil
}

func printAnalysis(a emergence.Analysis) {
	fmt.Printf("Isolated paths:    %d\n", len(a.IsolatedPaths))
	fmt.Printf("Coordinated paths: %d\n", len(a.CoordinatedPaths))

	fmt.Printf("Novel chains:      %d\n", len(a.NovelChains))
	for _, chain := range a.NovelChains {
		fmt.Printf("  %s\n", chain)
	}

	fmt.Printf("Emergence score:   %s (threshold %.2f, pass=%v)\n", a.ScoreString(), emergence.ScoreThreshold, a.ScoreGatePass)
	fmt.Printf("Max chain depth:   %d (threshold %d, pass=%v)\n", a.MaxDepth, emergence.DepthThreshold, a.DepthGatePass)

	if a.TaintedRecords > 0 {
		fmt.Printf("WARNING: %d coordinated records missing decision context\n", a.TaintedRecords)
	}
}
