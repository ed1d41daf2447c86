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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trio-stream/internal/auth"
	"trio-stream/internal/config"
	"trio-stream/internal/db"
	"trio-stream/internal/history"
	"trio-stream/internal/session"
	"trio-stream/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:          "trio-chat",
		Short:        "Chat de terminal con los agentes de Trio",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), chatID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "id del chat")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func run(ctx context.Context, chatID string, in io.Reader, out io.Writer) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	defer logger.Sync()

	client := transport.NewClient(cfg.BackendBaseURL, credentials(cfg), nil, logger).
		WithConnectTimeout(cfg.StreamConnectTimeout)

	var provider history.Provider = history.NewHTTPProvider(client)
	if cfg.UsesPostgresHistory() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("conectar db: %w", err)
		}
		defer pool.Close()
		provider = history.NewPgProvider(pool)
	}

	manager := session.NewManager(provider, session.TransportOpener(client), logger)
	defer manager.Close()

	r := newRenderer(out)
	unsub, err := manager.Subscribe(ctx, chatID, r.render)
	if err != nil {
		return fmt.Errorf("abrir chat: %w", err)
	}
	defer unsub()

	fmt.Fprintln(out, "---- Trio (/cancel, /reset, /quit) ----")
	return runLoop(ctx, bufio.NewReader(in), out, manager, chatID)
}

// chatActions es la parte del Manager que usa el loop de comandos.
type chatActions interface {
	Send(ctx context.Context, chatID, content string) error
	Cancel(chatID string) error
	Reset(chatID string) error
}

func runLoop(ctx context.Context, reader *bufio.Reader, out io.Writer, actions chatActions, chatID string) error {
	for {
		line, err := reader.ReadString('\n')
		text := strings.TrimSpace(line)
		if err != nil && text == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("leer input: %w", err)
		}

		switch text {
		case "":
			continue
		case "/quit":
			return nil
		case "/cancel":
			if err := actions.Cancel(chatID); err != nil {
				fmt.Fprintf(out, "No se pudo cancelar: %v\n", err)
			}
		case "/reset":
			if err := actions.Reset(chatID); err != nil {
				fmt.Fprintln(out, describe(err))
			}
		default:
			if err := actions.Send(ctx, chatID, text); err != nil {
				fmt.Fprintln(out, describe(err))
			}
		}
	}
}

func describe(err error) string {
	switch {
	case session.IsBusy(err):
		return "Hay una respuesta en curso. Espera o usa /cancel."
	case errors.Is(err, transport.ErrInvalidInput):
		return "Mensaje vacio."
	case transport.IsUnauthorized(err):
		return "Sesion no autorizada: revisa AUTH_TOKEN."
	}
	return fmt.Sprintf("Error: %v", err)
}

// credentials envia AUTH_TOKEN como cookie de sesion y como bearer token.
func credentials(cfg *config.Config) auth.Credentials {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil
	}
	cookie := auth.SessionCookie{Name: cfg.AuthCookieName, Value: cfg.AuthToken}
	bearer := auth.BearerToken(cfg.AuthToken)
	return auth.CredentialsFunc(func(req *http.Request) error {
		if err := cookie.Apply(req); err != nil {
			return err
		}
		return bearer.Apply(req)
	})
}
