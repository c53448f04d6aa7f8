package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statsAddr string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statsAddr
		if addr == "" {
			addr = "http://localhost" + cfg.Server.Listen
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(addr + "/api/v1/queue/stats")
		if err != nil {
			return fmt.Errorf("failed to reach server at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %s: %s", resp.Status, body)
		}

		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsAddr, "addr", "", "Base URL of the courier API (default derived from config)")
}
