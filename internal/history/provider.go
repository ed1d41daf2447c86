// Package history implementa el colaborador que siembra cada sesion con el
// historial y el roster de agentes de un chat.
package history

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"trio-stream/internal/domain"
	"trio-stream/internal/transport"
)

var ErrChatNotFound = errors.New("chat not found")

// Provider devuelve el snapshot de un chat al crear una sesion. ownerID es el
// usuario que lo pide; vacio solo en el modo local de un usuario.
type Provider interface {
	Load(ctx context.Context, ownerID, chatID string) (domain.Chat, error)
}

// Invalidator lo implementan los providers con cache; se invoca cuando un turno
// termina y el snapshot guardado quedo viejo.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID, chatID string) error
}

type chatFetcher interface {
	FetchChat(ctx context.Context, chatID string) (domain.Chat, error)
}

// HTTPProvider lee el chat del backend via GET /chats/{id}. El backend filtra por
// las credenciales del contexto, asi que ownerID no viaja.
type HTTPProvider struct {
	fetcher chatFetcher
}

func NewHTTPProvider(fetcher chatFetcher) *HTTPProvider {
	return &HTTPProvider{fetcher: fetcher}
}

func (p *HTTPProvider) Load(ctx context.Context, _, chatID string) (domain.Chat, error) {
	chat, err := p.fetcher.FetchChat(ctx, chatID)
	if err != nil {
		var te *transport.TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return domain.Chat{}, errors.Join(ErrChatNotFound, err)
		}
		return domain.Chat{}, err
	}
	return chat, nil
}

// Static sirve chats desde memoria. Lo usan los tests y el modo offline del CLI.
type Static struct {
	mu    sync.RWMutex
	chats map[string]domain.Chat
}

func NewStatic(chats ...domain.Chat) *Static {
	s := &Static{chats: make(map[string]domain.Chat, len(chats))}
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return s
}

func (s *Static) Put(chat domain.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
}

func (s *Static) Load(_ context.Context, _, chatID string) (domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	chat.Messages = append([]domain.Message(nil), chat.Messages...)
	chat.Agents = append([]domain.Agent(nil), chat.Agents...)
	return chat, nil
}
