package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trio-stream/internal/auth"
	"trio-stream/internal/domain"
	"trio-stream/internal/history"
	"trio-stream/internal/ratelimit"
	"trio-stream/internal/session"
	"trio-stream/internal/transport"
)

const (
	snapshotEvent     = "snapshot"
	keepAliveInterval = 15 * time.Second
)

// SessionManager es lo que el bridge necesita de session.Manager. Cada request
// opera solo sobre las sesiones del usuario del JWT.
type SessionManager interface {
	For(owner string) *session.Scope
}

// ChatHandler expone las sesiones de chat sobre HTTP.
type ChatHandler struct {
	logger   *zap.Logger
	sessions SessionManager
	limiter  ratelimit.Limiter
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, sessions SessionManager, limiter ratelimit.Limiter) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		sessions: sessions,
		limiter:  limiter,
	}
}

// snapshotResponse es la forma JSON de session.Snapshot.
type snapshotResponse struct {
	ChatID         string           `json:"chatId"`
	ChatName       string           `json:"chatName"`
	Phase          session.Phase    `json:"phase"`
	Messages       []domain.Message `json:"messages"`
	InProgress     *domain.Message  `json:"inProgress,omitempty"`
	ActiveSenderID string           `json:"activeSenderId,omitempty"`
	Agents         []domain.Agent   `json:"agents"`
	Error          string           `json:"error,omitempty"`
	Warnings       int              `json:"warnings,omitempty"`
}

// userSessions devuelve las sesiones del usuario autenticado. Responde 401 si
// la request no trae claims.
func (h *ChatHandler) userSessions(c *gin.Context) (*session.Scope, auth.Claims, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, auth.Claims{}, false
	}
	return h.sessions.For(claims.UserID), claims, true
}

func newSnapshotResponse(s session.Snapshot) snapshotResponse {
	messages := s.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	agents := s.Agents
	if agents == nil {
		agents = []domain.Agent{}
	}
	return snapshotResponse{
		ChatID:         s.ChatID,
		ChatName:       s.ChatName,
		Phase:          s.Phase,
		Messages:       messages,
		InProgress:     s.InProgress,
		ActiveSenderID: s.ActiveSenderID,
		Agents:         agents,
		Error:          s.ErrorMessage(),
		Warnings:       s.Warnings,
	}
}

// StreamEvents maneja GET /chats/:chatId/events. Mantiene viva la sesion mientras
// el cliente este conectado y le envia un snapshot por transicion.
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	chatID := c.Param("chatId")
	sessions, _, ok := h.userSessions(c)
	if !ok {
		return
	}
	ctx := auth.WithCredentials(c.Request.Context(), requestCredentials(c))

	// Un cliente lento pierde snapshots intermedios pero siempre recibe el ultimo.
	updates := make(chan session.Snapshot, 1)
	unsub, err := sessions.Subscribe(ctx, chatID, func(s session.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		h.writeError(c, "subscribe", chatID, err)
		return
	}
	defer unsub()

	h.logger.Info("events stream opened", zap.String("chat_id", chatID))
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap := <-updates:
			c.SSEvent(snapshotEvent, newSnapshotResponse(snap))
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
	h.logger.Info("events stream closed", zap.String("chat_id", chatID))
}

// GetChat maneja GET /chats/:chatId. Si nadie observa el chat, carga el
// historial para responder y libera la sesion enseguida.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID := c.Param("chatId")
	sessions, _, ok := h.userSessions(c)
	if !ok {
		return
	}
	if snap, err := sessions.Snapshot(chatID); err == nil {
		c.JSON(http.StatusOK, gin.H{"data": newSnapshotResponse(snap)})
		return
	}

	ctx := auth.WithCredentials(c.Request.Context(), requestCredentials(c))
	first := make(chan session.Snapshot, 1)
	unsub, err := sessions.Subscribe(ctx, chatID, func(s session.Snapshot) {
		select {
		case first <- s:
		default:
		}
	})
	if err != nil {
		h.writeError(c, "load chat", chatID, err)
		return
	}
	defer unsub()

	select {
	case snap := <-first:
		c.JSON(http.StatusOK, gin.H{"data": newSnapshotResponse(snap)})
	case <-ctx.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled"})
	}
}

// SendMessage maneja POST /chats/:chatId/messages.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID := c.Param("chatId")
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		h.logger.Warn("invalid send message request", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sessions, claims, ok := h.userSessions(c)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(c.Request.Context(), ratelimit.Key(claims.UserID, chatID)) {
		h.logger.Warn("send rate limited", zap.String("chat_id", chatID), zap.String("user_id", claims.UserID))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages"})
		return
	}

	ctx := auth.WithCredentials(c.Request.Context(), requestCredentials(c))
	if err := sessions.Send(ctx, chatID, req.Content); err != nil {
		h.writeError(c, "send message", chatID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": session.PhaseSending})
}

// CancelStream maneja DELETE /chats/:chatId/stream.
func (h *ChatHandler) CancelStream(c *gin.Context) {
	chatID := c.Param("chatId")
	sessions, _, ok := h.userSessions(c)
	if !ok {
		return
	}
	if err := sessions.Cancel(chatID); err != nil {
		h.writeError(c, "cancel stream", chatID, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetSession maneja POST /chats/:chatId/reset.
func (h *ChatHandler) ResetSession(c *gin.Context) {
	chatID := c.Param("chatId")
	sessions, _, ok := h.userSessions(c)
	if !ok {
		return
	}
	if err := sessions.Reset(chatID); err != nil {
		h.writeError(c, "reset session", chatID, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) writeError(c *gin.Context, op, chatID string, err error) {
	var busy *session.BusyError
	switch {
	case errors.As(err, &busy):
		c.JSON(http.StatusConflict, gin.H{"error": "stream in progress", "phase": busy.Phase})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
	case errors.Is(err, history.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	case errors.Is(err, session.ErrInvalidChatID), errors.Is(err, transport.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case transport.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, context.Canceled):
		h.logger.Info(op+" canceled", zap.String("chat_id", chatID))
		c.Status(499)
	default:
		h.logger.Error(op+" failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not " + op})
	}
}
