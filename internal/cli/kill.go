package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/model"
)

func init() {
	rootCmd.AddCommand(killCmd)
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Trigger the kill switch on the running core",
	Long:  "Fires the tri-path kill switch: bus broadcast, direct process termination,\nand orchestration-layer stop. Blocks until the event finalizes and prints it.\nExits non-zero if any agent could not be confirmed halted within the deadline.",
	RunE:  runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	var event model.KillEvent
	status, err := postJSON("/v1/kill", nil, &event)
	if err != nil {
		return err
	}

	fmt.Printf("Kill event %s (%s)\n", event.ID, event.Source)
	fmt.Printf("  triggered: %s\n", event.TriggeredAt.Format("15:04:05.000"))
	if event.HaltedAt != nil {
		fmt.Printf("  halted:    %s (%s)\n",
			event.HaltedAt.Format("15:04:05.000"),
			event.HaltedAt.Sub(event.TriggeredAt))
	}
	fmt.Printf("  satisfied: %v\n", event.Satisfied)

	if status == http.StatusGatewayTimeout || event.TimedOut {
		fmt.Fprintf(os.Stderr, "TIMEOUT: unresolved agents: %s\n", strings.Join(event.Unresolved, ", "))
		os.Exit(1)
	}
	return nil
}
