package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/app"
)

var (
	daemonHTTPPort int
	daemonNoHTTP   bool
	daemonNoWatch  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the refscan daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the foreground",
	Long: "Serves match requests over the project's Unix socket and over HTTP on localhost.\n" +
		"Catalog files under .refscan/catalogs (or REFSCAN_CATALOGS) are reloaded when they change.",
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func init() {
	f := daemonStartCmd.Flags()
	f.IntVar(&daemonHTTPPort, "http-port", 0, "HTTP port (default: derived from the project root)")
	f.BoolVar(&daemonNoHTTP, "no-http", false, "Serve the Unix socket only")
	f.BoolVar(&daemonNoWatch, "no-watch", false, "Do not reload catalog files on change")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root := cfg.ProjectRoot
	sockPath := socket.SocketPath(root)

	// Check if already running
	client := socket.NewClient(sockPath)
	if client.Ping() {
		fmt.Println("⚡ daemon already running")
		return nil
	}

	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort = daemonHTTPPort
	}
	if daemonNoHTTP {
		cfg.NoHTTP = true
	}
	if daemonNoWatch {
		cfg.Watch = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	// The daemon also keeps its log in .refscan/log/daemon.log.
	dlog, err := newLogger(cfg.LogLevel, cfg.LogPretty, paths.DaemonLog)
	if err != nil {
		return err
	}
	defer func() { _ = dlog.Sync() }()
	cfg.Logger = dlog

	a, err := app.New(cfg)
	if err != nil {
		if isStoreLocked(err) {
			return fmt.Errorf("%s", diagnoseStoreLock(cfg, true))
		}
		return fmt.Errorf("init: %w", err)
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}
	if err := os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		dlog.Warn("write pid file", zap.Error(err))
	}
	defer paths.CleanEphemeral()

	fmt.Printf("⚡ refscan daemon started at %s\n", sockPath)
	if !cfg.NoHTTP && a.WebServer.Port() != 0 {
		fmt.Printf("⚡ HTTP API at %s\n", a.WebServer.URL())
	}

	// Wait for a signal or a remote shutdown request
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.Server.ShutdownCh():
	}

	fmt.Println("\n⚡ shutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	sockPath := socket.SocketPath(cfg.ProjectRoot)
	client := socket.NewClient(sockPath)

	if !client.Ping() {
		fmt.Println("⚡ daemon is not running")
		return nil
	}

	if err := client.Shutdown(); err != nil {
		return err
	}

	fmt.Println("⚡ daemon stopped")
	return nil
}
