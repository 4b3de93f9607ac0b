package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/notify"
	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/report"
	"github.com/teranos/keywatch/server"
	"github.com/teranos/keywatch/sym"
)

// ServerCmd serves the HTTP API without running the scheduler
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Serve the HTTP API without the scheduler",
	Long: `Serve the schedule, report and notification API.

No schedules run in this process: /api/pulse/stats answers 503 and the
/ws/pulse feed stays quiet. Use 'keywatch pulse start' to run both.`,
	RunE: runServer,
}

var serverPort int

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides server.port)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer conn.Close()

	log := logger.Logger
	srv := server.New(server.Config{
		Addr:              cfg.ServerAddr(),
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, server.Deps{
		Schedules:     schedule.NewStore(conn),
		Notifications: notify.NewEmitter(conn, nil, log),
		Reports:       report.NewStore(conn),
	}, log)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()
	fmt.Printf("%s API on http://localhost%s (database %s)\n", sym.Pulse, cfg.ServerAddr(), describeDatabase(cfg))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case err := <-serverErr:
		return err
	}
	return srv.Stop()
}
