package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freight-reconciliation-service/cmd/reconciler/config"
	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/server"
	"freight-reconciliation-service/internal/store"
	"freight-reconciliation-service/pkg/logger"
)

var (
	listenAddr  string
	serveDBPath string
	serveRates  string
)

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation HTTP API",
	Long: `Serve exposes invoice reconciliation and the charge ledger over HTTP.

Examples:
  reconciler serve --db shipments.db --listen :8080
  reconciler serve --db shipments.db --rates-url http://rates.internal:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "path to SQLite shipment database (required)")
	serveCmd.Flags().StringVar(&serveRates, "rates-url", "", "exchange-rate service base URL (identity rates when unset)")

	serveCmd.MarkFlagRequired("db")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("serve-db", serveCmd.Flags().Lookup("db"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	db, err := store.Open(serveDBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ldg := ledger.New(db.LedgerStore())

	service, err := config.BuildService(config.ServiceOptions{
		Repository:   db.ShipmentRepository(),
		LedgerStore:  db.LedgerStore(),
		RatesURL:     serveRates,
		MatchProfile: "default",
		PoolLimit:    viper.GetInt("pool-limit"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.New(service, ldg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", listenAddr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
