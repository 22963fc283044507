package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smallnest/datanexus/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OpenAI-compatible HTTP API",
	Long: `Starts the analyst as an HTTP service. On startup it introspects the
database schema into the knowledge base, then serves POST /v1/chat/completions
plus per-thread history, reports, health and metrics endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fewShot, _ := cmd.Flags().GetString("few-shot")

		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := ingestKnowledgeBase(ctx, rt, fewShot); err != nil {
			return err
		}

		srv := server.New(rt.agent,
			server.WithLogger(rt.logger),
			server.WithRegistry(rt.registry),
			server.WithModelName(cfg.LLM.Model))

		httpServer := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      srv.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		}

		serverErrors := make(chan error, 1)
		go func() {
			rt.logger.Info("listening on %s", cfg.Server.Addr)
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case sig := <-shutdown:
			rt.logger.Info("shutting down on %v", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				_ = httpServer.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("few-shot", "", "Path to a question,sql CSV of few-shot examples")
	rootCmd.AddCommand(serveCmd)
}
