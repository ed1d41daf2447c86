package history

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trio-stream/internal/db"
)

// Requiere una base con el esquema del backend; se saltea si no hay DSN.
// TRIO_TEST_OWNER_ID, si esta, debe ser el dueño del chat.
func TestPgProvider_Integration(t *testing.T) {
	dsn := os.Getenv("TRIO_TEST_DATABASE_URL")
	chatID := os.Getenv("TRIO_TEST_CHAT_ID")
	if dsn == "" || chatID == "" {
		t.Skip("TRIO_TEST_DATABASE_URL / TRIO_TEST_CHAT_ID not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	chat, err := NewPgProvider(pool).Load(ctx, os.Getenv("TRIO_TEST_OWNER_ID"), chatID)
	require.NoError(t, err)
	assert.Equal(t, chatID, chat.ID)
	for i := 1; i < len(chat.Messages); i++ {
		assert.False(t, chat.Messages[i].CreatedAt.Before(chat.Messages[i-1].CreatedAt), "messages ordered by arrival")
	}

	_, err = NewPgProvider(pool).Load(ctx, "", "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = NewPgProvider(pool).Load(ctx, "00000000-0000-0000-0000-000000000000", chatID)
	assert.ErrorIs(t, err, ErrChatNotFound, "chat of another user")
}
