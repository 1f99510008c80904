package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/deskd/internal/config"
)

var approvalReviewer string

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads waiting on human approval",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <thread>",
	Short: "Approve the pending tool call on a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsApprove,
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <thread> [note]",
	Short: "Deny the pending tool call on a thread",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runApprovalsDeny,
}

func init() {
	approvalsCmd.PersistentFlags().StringVar(&approvalReviewer, "reviewer", "", "reviewer name recorded in the audit trail")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

type approvalListEntry struct {
	ThreadID string `json:"thread_id"`
	Agent    string `json:"agent"`
	Pending  struct {
		ID     string                 `json:"id"`
		Tool   string                 `json:"tool"`
		Args   map[string]interface{} `json:"args"`
		Reason string                 `json:"reason"`
	} `json:"pending"`
	Since time.Time `json:"since"`
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	body, err := gatewayRequest(http.MethodGet, "/v1/approvals", nil)
	if err != nil {
		return err
	}

	var entries []approvalListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	if len(entries) == 0 {
		cmd.Println("No pending approval requests.")
		return nil
	}

	cmd.Println("Pending approval requests:")
	for _, entry := range entries {
		waiting := time.Since(entry.Since).Round(time.Second)
		cmd.Printf("- thread: %s | agent: %s | tool: %s | waiting: %s\n", entry.ThreadID, entry.Agent, entry.Pending.Tool, waiting)
		if entry.Pending.Reason != "" {
			cmd.Printf("  reason: %s\n", entry.Pending.Reason)
		}
	}
	return nil
}

func runApprovalsApprove(cmd *cobra.Command, args []string) error {
	threadID := args[0]

	payload := map[string]interface{}{
		"approve":  true,
		"reviewer": approvalReviewer,
	}
	if _, err := gatewayRequest(http.MethodPost, "/v1/threads/"+threadID+"/approval", payload); err != nil {
		return err
	}

	cmd.Printf("Approved pending call on thread %s.\n", threadID)
	return nil
}

func runApprovalsDeny(cmd *cobra.Command, args []string) error {
	threadID := args[0]
	note := ""
	if len(args) > 1 {
		note = args[1]
	}

	payload := map[string]interface{}{
		"approve":  false,
		"note":     note,
		"reviewer": approvalReviewer,
	}
	if _, err := gatewayRequest(http.MethodPost, "/v1/threads/"+threadID+"/approval", payload); err != nil {
		return err
	}

	cmd.Printf("Denied pending call on thread %s.\n", threadID)
	return nil
}

// gatewayRequest calls the running daemon's HTTP API using the
// configured address and shared secret.
func gatewayRequest(method, path string, payload interface{}) ([]byte, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, cfg.Gateway.Port, path)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Gateway.SharedSecret != "" {
		req.Header.Set("X-Deskd-Secret", cfg.Gateway.SharedSecret)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
