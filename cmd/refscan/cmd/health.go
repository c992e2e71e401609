package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/refscan/internal/adapters/socket"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon status",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := socket.NewClient(socket.SocketPath(cfg.ProjectRoot))

	if !client.Ping() {
		fmt.Fprintln(cmd.OutOrStdout(), "⚡ refscan daemon is not running")
		return nil
	}

	health, err := client.Health()
	if err != nil {
		return err
	}
	if healthJSON {
		return writeJSON(cmd.OutOrStdout(), health)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatHealth(health))
	return nil
}
