package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/authz"
)

var decideOperator string

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	approveCmd.Flags().StringVar(&decideOperator, "operator", "console", "Operator identity recorded on the decision")
	denyCmd.Flags().StringVar(&decideOperator, "operator", "console", "Operator identity recorded on the decision")
}

var approveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending sensitive action",
	Long:  "Resolves an authorization request as approved. The decision is exactly-once:\nif the request was already decided, the original resolution stands and this\ncommand reports the conflict.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(args[0], "approve", "approved")
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <action-id>",
	Short: "Deny a pending sensitive action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(args[0], "deny", "denied")
	},
}

func runDecide(actionID, verb, past string) error {
	path := fmt.Sprintf("/v1/authz/%s/%s?operator=%s",
		url.PathEscape(actionID), verb, url.QueryEscape(decideOperator))

	var raw json.RawMessage
	status, err := postJSON(path, nil, &raw)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK:
		var req authz.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
		fmt.Printf("%s %s (agent=%s target=%s)\n", past, actionID, req.AgentID, req.Target)
		return nil
	case http.StatusConflict:
		var conflict struct {
			Request *authz.Request `json:"request"`
		}
		_ = json.Unmarshal(raw, &conflict)
		state, by := "", ""
		if conflict.Request != nil {
			state, by = string(conflict.Request.State), conflict.Request.DecidedBy
		}
		fmt.Fprintf(os.Stderr, "already resolved: %s is %s (decided by %s)\n", actionID, state, by)
		os.Exit(1)
		return nil
	default:
		var fail struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &fail)
		return fmt.Errorf("%s failed: %s", verb, fail.Error)
	}
}
