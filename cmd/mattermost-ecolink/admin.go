// Copyright 2024-2026 Aiku AI

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-ecolink/pkg/bridge"
)

var (
	adminAddr    string
	adminVerbose bool
	jsonOutput   bool
)

var adminCmd = &cobra.Command{
	Use:       "admin <command>",
	Short:     "Run an admin command on a running bridge",
	Long:      "Run an admin command on a running bridge.\n\nCommands: " + strings.Join(bridge.Commands, ", "),
	ValidArgs: bridge.Commands,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		resp, raw, err := runAdminCommand(ctx, adminAddr, args[0], adminVerbose)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(raw)))
		} else if resp.Output != "" {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(resp.Output, "\n"))
		}
		if !resp.OK {
			return fmt.Errorf("%s failed: %s", resp.Command, resp.Error)
		}
		return nil
	},
}

func adminURL(addr, command string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + "/api/commands/" + command
}

func runAdminCommand(ctx context.Context, addr, command string, verbose bool) (bridge.CommandResponse, []byte, error) {
	var resp bridge.CommandResponse
	body, err := json.Marshal(bridge.CommandRequest{Verbose: verbose})
	if err != nil {
		return resp, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adminURL(addr, command), bytes.NewReader(body))
	if err != nil {
		return resp, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to reach the bridge admin API: %w", err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, raw, fmt.Errorf("unexpected response (HTTP %d): %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, raw, nil
}

func init() {
	adminCmd.Flags().StringVar(&adminAddr, "addr", "127.0.0.1:29320", "admin API address of the running bridge")
	adminCmd.Flags().BoolVarP(&adminVerbose, "verbose", "v", false, "include module and event details in the status")
	adminCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}
