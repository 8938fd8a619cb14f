package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestActorContext(t *testing.T) {
	require.Equal(t, uuid.Nil, ActorFromContext(context.Background()))

	actor := uuid.New()
	ctx := ContextWithActor(context.Background(), actor)
	require.Equal(t, actor, ActorFromContext(ctx))
}

func TestStockEditLockKey(t *testing.T) {
	outlet := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	product := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	require.Equal(t, "stock:11111111-1111-1111-1111-111111111111:22222222-2222-2222-2222-222222222222",
		StockEditLockKey(outlet, product))
}

func TestNilStoresAreSafe(t *testing.T) {
	var store *IdempotencyStore
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "m"))
	require.NoError(t, store.Delete(context.Background(), "k"))

	var audit *AuditLogger
	require.Error(t, audit.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
}
