package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/server"
	"github.com/opencode-ai/streamd/internal/vcs"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamd HTTP server",
	Long: `Start streamd as a server that exposes the session API over HTTP.

Responses stream as Server-Sent Events. On SIGINT or SIGTERM the server
stops accepting requests, aborts running streams and waits for them to be
recorded before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, else 4096)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, else 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(workDir, appOptions{Titles: true})
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.recoverInterrupted(ctx); err != nil {
		return err
	}

	serverConfig := server.DefaultConfig()
	if sc := a.config.Server; sc != nil {
		if sc.Port != 0 {
			serverConfig.Port = sc.Port
		}
		if sc.Hostname != "" {
			serverConfig.Hostname = sc.Hostname
		}
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	watcher, err := vcs.NewWatcher(workDir, a.bus)
	if err != nil {
		logging.Warn().Err(err).Msg("Branch watcher unavailable")
	} else if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	srv := server.New(serverConfig, a.service, a.bus)
	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Str("model", a.config.Model).
		Msg("Starting streamd server")
	cmd.Printf("streamd listening on http://%s\n", serverConfig.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Streams must settle first: open SSE responses only end once their
		// turn is finalized.
		if err := a.service.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Session service shutdown")
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("Server stopped")
	return nil
}
