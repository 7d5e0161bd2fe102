package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Resume a paused agent",
	Long:  "Clears the pause flag on an agent that was paused by an expired\nauthorization or an operator. Resuming requires the core to be running.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	agentID := args[0]

	var reply struct {
		Error string `json:"error"`
	}
	status, err := postJSON("/v1/agents/"+url.PathEscape(agentID)+"/resume", nil, &reply)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("resume failed: %s", reply.Error)
	}
	fmt.Printf("Resumed %s\n", agentID)
	return nil
}
