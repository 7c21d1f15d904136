package cli

import (
	"fmt"

	"github.com/harun/stepwise/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Stepwise gateway",
	Long: `Run the engine behind the HTTP gateway in the foreground.
Requests are accepted on POST /v1/requests and their events are streamed
over websocket or NDJSON. SIGINT or SIGTERM drains running sessions and exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from gateway.host)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "listen port (default from gateway.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort >= 0 {
		cfg.Gateway.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if pid, err := daemon.ReadPIDFile(pidFilePath(cfg)); err == nil && daemon.ProcessAlive(pid) {
		return fmt.Errorf("gateway is already running (PID %d)", pid)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := newDaemon(cfg, log, daemon.Options{Gateway: true})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stepwise gateway listening on %s\n", d.GatewayAddr())

	return d.Wait(cmd.Context())
}
