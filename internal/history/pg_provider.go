package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trio-stream/internal/domain"
)

// PgProvider lee el historial directamente de la base del backend.
type PgProvider struct {
	pool *pgxpool.Pool
}

func NewPgProvider(pool *pgxpool.Pool) *PgProvider {
	return &PgProvider{pool: pool}
}

// Load solo devuelve chats de ownerID (external_id del usuario). Con ownerID
// vacio no filtra: es el modo local del CLI contra una base propia.
func (p *PgProvider) Load(ctx context.Context, ownerID, chatID string) (domain.Chat, error) {
	const chatQuery = `
		SELECT c.id, c.external_id::text, c.chat_name
		FROM chats c
		JOIN users u ON u.id = c.user_id
		WHERE c.external_id::text = $1
			AND ($2::text = '' OR u.external_id::text = $2::text)
			AND c.deleted_at IS NULL
	`

	var (
		internalID int64
		chat       domain.Chat
	)
	err := p.pool.QueryRow(ctx, chatQuery, chatID, ownerID).Scan(&internalID, &chat.ID, &chat.ChatName)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	chat.Type = domain.ChatTypeDefault

	if chat.Agents, err = p.listAgents(ctx, internalID); err != nil {
		return domain.Chat{}, err
	}
	if chat.Messages, err = p.listMessages(ctx, internalID, chat.ID); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (p *PgProvider) listAgents(ctx context.Context, chatID int64) ([]domain.Agent, error) {
	const query = `
		SELECT external_id::text, name, COALESCE(lingo, ''), COALESCE(traits, '{}')
		FROM agents
		WHERE chat_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC
	`

	rows, err := p.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Lingo, &a.Traits); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

func (p *PgProvider) listMessages(ctx context.Context, chatID int64, externalChatID string) ([]domain.Message, error) {
	const query = `
		SELECT
			m.external_id::text,
			m.content,
			m.sender_type::text,
			m.created_at,
			CASE WHEN m.sender_type::text = 'Agent'
				THEN COALESCE(a.external_id::text, m.sender_id::text)
				ELSE m.sender_id::text END,
			CASE WHEN m.sender_type::text = 'Agent'
				THEN COALESCE(a.name, '')
				ELSE COALESCE(u.username, '') END
		FROM messages m
		LEFT JOIN agents a ON m.sender_type::text = 'Agent' AND a.id = m.sender_id
		LEFT JOIN users u ON m.sender_type::text = 'User' AND u.id = m.sender_id
		WHERE m.chat_id = $1 AND m.deleted_at IS NULL
		ORDER BY m.created_at ASC, m.id ASC
	`

	rows, err := p.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg := domain.Message{ChatID: externalChatID}
		var kind string
		if err := rows.Scan(&msg.ID, &msg.Content, &kind, &msg.CreatedAt, &msg.SenderID, &msg.SenderName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SenderKind = domain.SenderKind(kind)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
