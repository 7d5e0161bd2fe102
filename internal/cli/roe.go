package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/roe"
)

func init() {
	rootCmd.AddCommand(roeCmd)
	roeCmd.AddCommand(roeValidateCmd)
	roeCmd.AddCommand(roeShowCmd)
}

var roeCmd = &cobra.Command{
	Use:   "roe",
	Short: "Rules-of-engagement operations",
	Long:  "Commands for validating and inspecting a rules-of-engagement document\nbefore it is loaded into a running core.",
}

var roeValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a rules-of-engagement document",
	Long:  "Parses and compiles the RoE YAML. Exits non-zero on any defect that would\nmake the scope validator reject the document at load time.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoEValidate,
}

var roeShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Show the compiled view of a rules-of-engagement document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoEShow,
}

func runRoEValidate(cmd *cobra.Command, args []string) error {
	snap, err := roe.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("OK: %s (aggression=%s, hash=%s)\n", snap.Doc.Engagement, snap.Doc.Aggression, snap.Hash)
	return nil
}

func runRoEShow(cmd *cobra.Command, args []string) error {
	snap, err := roe.Load(args[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(map[string]any{
		"engagement":        snap.Doc.Engagement,
		"aggression":        snap.Doc.Aggression,
		"effective_from":    snap.Doc.EffectiveFrom,
		"expires_at":        snap.Doc.ExpiresAt,
		"allowed_targets":   snap.Doc.AllowedTargets,
		"allowed_resources": snap.Doc.AllowedNames,
		"forbidden_ports":   snap.Doc.ForbiddenPorts,
		"hash":              snap.Hash,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}
