//go:build integration

package client

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return addr
}

func TestIntegration_RedisStore(t *testing.T) {
	ctx := context.Background()
	rs, err := NewRedisStore(ctx, setupRedis(t), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	t.Run("summary miss then hit", func(t *testing.T) {
		got, err := rs.GetSummary(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		want := &service.ExposureSummary{
			Rows: []repository.ExposureRow{
				{Type: repository.InstrumentOutgoing, Status: "ISSUED", Count: 2, TotalAmount: decimal.RequireFromString("600.75")},
			},
			NetOutgoing: decimal.RequireFromString("600.75"),
			NetIncoming: decimal.Zero,
			GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}
		require.NoError(t, rs.SetSummary(ctx, want))

		got, err = rs.GetSummary(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, want.NetOutgoing.Equal(got.NetOutgoing))
		require.Len(t, got.Rows, 1)
		assert.Equal(t, int64(2), got.Rows[0].Count)
		assert.True(t, want.GeneratedAt.Equal(got.GeneratedAt))
	})

	t.Run("relay cursor", func(t *testing.T) {
		id, err := rs.LoadCursor(ctx)
		require.NoError(t, err)
		assert.Zero(t, id)

		require.NoError(t, rs.SaveCursor(ctx, 42))
		id, err = rs.LoadCursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("zero ttl disables caching", func(t *testing.T) {
		off := NewRedisStoreFromClient(rs.client, 0)
		require.NoError(t, off.SetSummary(ctx, &service.ExposureSummary{NetOutgoing: decimal.NewFromInt(1)}))
		got, err := off.GetSummary(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.NetOutgoing.Equal(decimal.RequireFromString("600.75")))
	})
}
