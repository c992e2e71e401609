package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/app"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long:  "Shows the resolved configuration, socket path and daemon status. No daemon required.",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "Output as JSON")
}

func runConfig(cmd *cobra.Command, args []string) error {
	root := cfg.ProjectRoot
	sockPath := socket.SocketPath(root)
	paths := app.NewPaths(root)

	if configJSON {
		return writeJSON(cmd.OutOrStdout(), cfg)
	}

	client := socket.NewClient(sockPath)
	daemonRunning := client.Ping()
	daemonStatus := paint(colorYellow, "✗ not running")
	if daemonRunning {
		daemonStatus = paint(colorGreen, "✓ running")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, paint(colorBold, "⚡ refscan config"))
	fmt.Fprintf(w, "  Root:       %s\n", root)
	fmt.Fprintf(w, "  DB:         %s\n", cfg.DBPath)
	fmt.Fprintf(w, "  Catalogs:   %s\n", strings.Join(cfg.Catalogs, ", "))
	fmt.Fprintf(w, "  Watch:      %t\n", cfg.Watch)
	fmt.Fprintf(w, "  Fuzzy:      max %d edits, texts up to %d runes\n", cfg.MaxFuzzyThreshold, cfg.MaxFuzzyRunes)
	fmt.Fprintf(w, "  Cache:      %d catalogs\n", cfg.CacheSize)
	fmt.Fprintf(w, "  Log:        %s\n", cfg.LogLevel)
	fmt.Fprintf(w, "  Socket:     %s\n", sockPath)
	fmt.Fprintf(w, "  Daemon:     %s\n", daemonStatus)

	if daemonRunning {
		if portData, err := os.ReadFile(paths.PortFile); err == nil {
			fmt.Fprintf(w, "  HTTP:       http://localhost:%s\n", strings.TrimSpace(string(portData)))
		}
	}
	return nil
}
