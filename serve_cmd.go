package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrator/internal/narration"
	"github.com/dgnsrekt/narrator/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve narration synthesis over HTTP",
	Long: paragraph(fmt.Sprintf("\n%s POST /api/tts for other narrator instances and web players, backed by the configured provider and audio cache.",
		keyword("Serve"))),
	Example: paragraph("narrator serve --addr :8080\nnarrator serve --provider google --cache sqlite"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logToStderr()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cacheDir, err := audioCacheDir()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		syn, err := narration.NewSynthesis(ctx, cfg, cacheDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := syn.Close(); err != nil {
				log.Error("error closing synthesis", "error", err)
			}
		}()

		srv := server.New(cfg.Serve.Addr, syn.Service)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("unable to shut down: %w", err)
		}
		return <-errCh
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}
