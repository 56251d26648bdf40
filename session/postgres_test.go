package session_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/database"
	"github.com/fabfab/makrai/session"
)

func TestPostgresStore(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, database.EnsureSessionSchema(ctx, pool))

	store := session.NewPostgresStore(pool)
	id := uuid.NewString()
	t.Cleanup(func() { _ = store.Reset(ctx, id) })

	require.NoError(t, store.Append(ctx, id,
		session.Turn{Role: session.RoleUser, Text: "pergunta"},
		session.Turn{Role: session.RoleAssistant, Text: "resposta"},
	))

	got, err := store.Transcript(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, session.RoleAssistant, got[1].Role)
}
