// haadm is a thin administrative client for hamasterd: every subcommand
// issues one HTTP request against a running daemon's admin API and prints
// the JSON response. It holds no HA logic of its own.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	addr    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "haadm",
		Short:   "haadm - administrative client for hamasterd",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:58000", "hamasterd admin HTTP address")

	rootCmd.AddCommand(
		newStatusCmd(),
		newNodesCmd(),
		newProcessesCmd(),
		newPingHostsCmd(),
		newActivateCmd(),
		newDeactivateCmd(),
		newReloadCmd(),
		newDemoteCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func get(path string) error {
	resp, err := http.Get(strings.TrimRight(addr, "/") + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func post(path string, body io.Reader) error {
	resp, err := http.Post(strings.TrimRight(addr, "/")+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	var payload interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hamasterd returned %s", resp.Status)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this node's role, master, and recent event history",
		RunE:  func(cmd *cobra.Command, args []string) error { return get("/admin-info") },
	}
}

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the cluster roster",
		RunE:  func(cmd *cobra.Command, args []string) error { return get("/nodes") },
	}
}

func newProcessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List supervised child processes",
		RunE:  func(cmd *cobra.Command, args []string) error { return get("/processes") },
	}
}

func newPingHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping-hosts",
		Short: "List configured ping hosts and their last probe result",
		RunE:  func(cmd *cobra.Command, args []string) error { return get("/ping-hosts") },
	}
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Reactivate a previously deactivated node",
		RunE:  func(cmd *cobra.Command, args []string) error { return post("/activate", nil) },
	}
}

func newDeactivateCmd() *cobra.Command {
	var finalize bool
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Prepare (or finalize) graceful deactivation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if finalize {
				return post("/deactivate/finalize", nil)
			}
			return post("/deactivate/prepare", nil)
		},
	}
	cmd.Flags().BoolVar(&finalize, "finalize", false, "finalize a previously prepared deactivation")
	return cmd
}

func newReloadCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Re-read the roster configuration in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.NewReader(fmt.Sprintf(`{"config_path":%q}`, configPath))
			return post("/reload", body)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the new YAML configuration file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newDemoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demote",
		Short: "Request this node demote itself to SLAVE",
		RunE:  func(cmd *cobra.Command, args []string) error { return post("/demote", nil) },
	}
}
