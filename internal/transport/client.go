package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"trio-stream/internal/auth"
	"trio-stream/internal/domain"
)

const maxErrorBody = 4 << 10

// Client abre los streams de chat contra el backend de Trio.
type Client struct {
	baseURL        string
	creds          auth.Credentials
	client         *http.Client
	connectTimeout time.Duration
	logger         *zap.Logger
}

// NewClient construye un cliente HTTP. httpClient no debe tener Timeout global:
// los streams pueden durar indefinidamente.
func NewClient(baseURL string, creds auth.Credentials, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  httpClient,
		logger:  logger,
	}
}

// WithConnectTimeout limita la espera de los headers de respuesta al abrir un stream.
func (c *Client) WithConnectTimeout(d time.Duration) *Client {
	c.connectTimeout = d
	return c
}

type streamRequest struct {
	Content string `json:"content"`
}

// OpenStream inicia un turno de chat y devuelve el stream de la respuesta.
// Cada llamada abre exactamente una conexion.
func (c *Client) OpenStream(ctx context.Context, chatID, content string) (*Handle, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidInput
	}

	bodyBytes, err := json.Marshal(streamRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.chatURL(chatID)+"/messages/stream", bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "open stream", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if err := c.applyCredentials(ctx, req); err != nil {
		cancel()
		return nil, &TransportError{Op: "open stream", Unauthorized: true, Err: err}
	}

	var timer *time.Timer
	if c.connectTimeout > 0 {
		timer = time.AfterFunc(c.connectTimeout, cancel)
	}
	resp, err := c.client.Do(req)
	timedOut := timer != nil && !timer.Stop()
	if err != nil {
		cancel()
		switch {
		case timedOut:
			return nil, &TransportError{Op: "open stream", Err: ErrConnectTimeout}
		case ctx.Err() != nil:
			return nil, ErrCanceled
		}
		return nil, &TransportError{Op: "open stream", Err: err}
	}
	if timedOut {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Op: "open stream", Err: ErrConnectTimeout}
	}

	if resp.StatusCode >= 300 {
		defer cancel()
		return nil, c.statusError("open stream", resp)
	}

	return newHandle(ctx, resp.Body, cancel), nil
}

// FetchChat lee el chat con su historial y roster de agentes.
func (c *Client) FetchChat(ctx context.Context, chatID string) (domain.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.Chat{}, ErrInvalidInput
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.chatURL(chatID), nil)
	if err != nil {
		return domain.Chat{}, &TransportError{Op: "fetch chat", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if err := c.applyCredentials(ctx, req); err != nil {
		return domain.Chat{}, &TransportError{Op: "fetch chat", Unauthorized: true, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Chat{}, &TransportError{Op: "fetch chat", Err: err}
	}
	if resp.StatusCode >= 300 {
		return domain.Chat{}, c.statusError("fetch chat", resp)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data domain.Chat `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.Chat{}, fmt.Errorf("decode chat: %w", err)
	}
	if envelope.Data.ID == "" {
		envelope.Data.ID = chatID
	}
	return envelope.Data, nil
}

func (c *Client) chatURL(chatID string) string {
	return c.baseURL + "/chats/" + url.PathEscape(chatID)
}

func (c *Client) applyCredentials(ctx context.Context, req *http.Request) error {
	creds, ok := auth.FromContext(ctx)
	if !ok {
		creds = c.creds
	}
	if creds == nil {
		return auth.ErrNoCredentials
	}
	return creds.Apply(req)
}

// statusError consume y cierra el body de una respuesta no exitosa.
func (c *Client) statusError(op string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	message := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}

	c.logger.Warn("backend error response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("body", string(body)),
	)
	return &TransportError{
		Op:           op,
		StatusCode:   resp.StatusCode,
		Unauthorized: resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
		Message:      message,
	}
}
