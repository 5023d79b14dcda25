package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/aili/internal/app"
	"github.com/ent0n29/aili/internal/config"
	"github.com/ent0n29/aili/internal/httpapi"
	"github.com/ent0n29/aili/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "aili",
		Short:         "Persona chat service with conversational memory",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.String("conversation_backend", cfg.ConversationLLMType),
			zap.String("memory_backend", built.MemoryBackend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}

func newChatCmd() *cobra.Command {
	var (
		roleName string
		youName  string
		stream   bool
	)
	cmd := &cobra.Command{
		Use:   "chat [query]",
		Short: "Talk to a persona from the terminal",
		Long: `Runs one turn when a query is given. Without a query, reads one query per
line from stdin until EOF.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if roleName == "" {
				roleName = cfg.CharacterName
			}
			if youName == "" {
				youName = cfg.YourName
			}

			ctx := cmd.Context()
			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer built.Cleanup() //nolint:errcheck

			t := &terminal{
				dialogue: built.Dialogue,
				out:      cmd.OutOrStdout(),
				roleName: roleName,
				youName:  youName,
				stream:   stream,
			}
			if len(args) == 1 {
				return t.turn(ctx, args[0])
			}
			return t.loop(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&roleName, "role", "", "persona to talk to (default CHARACTER_NAME)")
	cmd.Flags().StringVar(&youName, "you", "", "your name (default YOUR_NAME)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print raw tokens as they are generated, then the cleaned reply if it differs")
	return cmd
}

type terminal struct {
	dialogue httpapi.Dialogue
	out      io.Writer
	roleName string
	youName  string
	stream   bool
}

func (t *terminal) turn(ctx context.Context, query string) error {
	if !t.stream {
		answer, err := t.dialogue.Chat(ctx, t.roleName, t.youName, query)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%s: %s\n", t.roleName, answer)
		return nil
	}

	// Tokens are printed before sanitizing; the cleaned answer is repeated
	// when it differs from what was shown.
	var raw strings.Builder
	fmt.Fprintf(t.out, "%s: ", t.roleName)
	answer, err := t.dialogue.ChatStream(ctx, t.roleName, t.youName, query,
		func(_, _, token string, _ bool) error {
			raw.WriteString(token)
			_, err := io.WriteString(t.out, token)
			return err
		},
		nil,
	)
	fmt.Fprintln(t.out)
	if err != nil {
		return err
	}
	if answer != strings.TrimSpace(raw.String()) {
		fmt.Fprintf(t.out, "%s: %s\n", t.roleName, answer)
	}
	return nil
}

func (t *terminal) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(t.out, "%s: ", t.youName)
		if !scanner.Scan() {
			fmt.Fprintln(t.out)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if err := t.turn(ctx, query); err != nil {
			fmt.Fprintf(t.out, "error: %v\n", err)
		}
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
