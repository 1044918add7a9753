package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"takeout-ingestion-service/internal/httpapi"
	"takeout-ingestion-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingestion HTTP API",
	Long: `Serve exposes ingestion over HTTP:

  GET  /api/health
  POST /api/ingest          {content, fileName, ownerIdHint?, externalRef?, selection?}
  POST /api/ingest/preview  {content, fileName, selection?}

Examples:
  ingestor serve --addr :8080
  INGESTOR_STORE_DRIVER=postgres INGESTOR_STORE_URL=postgres://... ingestor serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", httpapi.DefaultConfig().Addr, "listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stores, err := cfg.OpenStores(ctx)
	if err != nil {
		return err
	}
	defer stores.Close()

	orchestrator, err := cfg.BuildOrchestrator(stores, log, nil)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(&cfg.Server, orchestrator, log)
	if err != nil {
		return err
	}

	log.WithComponent("cli").WithFields(logger.Fields{
		"addr":         server.Addr(),
		"store_driver": cfg.Store.Driver,
		"extraction":   cfg.Extraction.Mode,
	}).Info("Starting ingestion server")

	return server.Run(ctx)
}
