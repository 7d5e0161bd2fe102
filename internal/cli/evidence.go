package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/config"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/model"
)

var exportRun string

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.AddCommand(evidenceVerifyCmd)
	evidenceCmd.AddCommand(evidenceExportCmd)
	evidenceExportCmd.Flags().StringVar(&exportRun, "run", "coordinated", "Run to export: isolated or coordinated")
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Evidence log operations",
	Long:  "Commands for verifying and exporting the hash-chained decision evidence.",
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an evidence log",
	Long:  "Walks the JSONL evidence log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEvidenceVerify,
}

var evidenceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's decision records as JSON",
	RunE:  runEvidenceExport,
}

func runEvidenceVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		path = cfg.Evidence.LogPath
	}

	result := evidence.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified", result.Lines)
		if result.Tainted > 0 {
			fmt.Printf(" (%d tainted)", result.Tainted)
		}
		fmt.Println()
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runEvidenceExport(cmd *cobra.Command, args []string) error {
	if !model.ValidRunID(exportRun) {
		return fmt.Errorf("unknown run %q", exportRun)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := evidence.OpenStore(cfg.Evidence.DBPath)
	if err != nil {
		return fmt.Errorf("open evidence store: %w", err)
	}
	defer store.Close()

	records, err := store.ListByRun(context.Background(), model.RunID(exportRun))
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
