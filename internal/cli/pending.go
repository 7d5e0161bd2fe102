package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/authz"
	"github.com/ppiankov/swarmgate/internal/config"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending authorization requests",
	Long:  "Shows every undecided authorization request with its agent, target, tool,\nand decision deadline. Works directly against the authorization store.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := openAuthzStore()
	if err != nil {
		return err
	}

	pending, err := store.Pending()
	if err != nil {
		return fmt.Errorf("list authorizations: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending authorizations.")
		return nil
	}

	fmt.Printf("%-38s %-12s %-30s %-16s %s\n", "ACTION", "AGENT", "TARGET", "TOOL", "DEADLINE")
	for _, req := range pending {
		fmt.Printf("%-38s %-12s %-30s %-16s %s\n",
			req.ActionID,
			req.AgentID,
			truncate(req.Target, 30),
			truncate(req.Tool, 16),
			req.Deadline.Format("2006-01-02 15:04"),
		)
	}
	return nil
}

func openAuthzStore() (*authz.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	store, err := authz.NewStore(cfg.Authz.Dir)
	if err != nil {
		return nil, fmt.Errorf("open authorization store: %w", err)
	}
	return store, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
