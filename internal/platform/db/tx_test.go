package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsRetryable(fmt.Errorf("post: %w", &pgconn.PgError{Code: "40P01"})))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(errors.New("plain")))
	require.False(t, IsRetryable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_vouchers_outlet_number"})
	require.True(t, IsUniqueViolation(err, "uq_vouchers_outlet_number"))
	require.True(t, IsUniqueViolation(err, ""))
	require.False(t, IsUniqueViolation(err, "uq_products_outlet_sku"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}, ""))
}

func TestIsCheckViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23514", ConstraintName: "chk_vouchers_balanced"})
	require.True(t, IsCheckViolation(err, "chk_vouchers_balanced"))
	require.True(t, IsCheckViolation(err, ""))
	require.False(t, IsUniqueViolation(err, ""))
	require.False(t, IsCheckViolation(errors.New("boom"), ""))
}

func TestBackoffHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, backoff(ctx, 3), context.Canceled)
	require.NoError(t, backoff(context.Background(), 1))
}

func TestApplyOptions(t *testing.T) {
	config, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db")
	require.NoError(t, err)
	applyOptions(config, Options{MaxConns: 12, MinConns: 2, MaxConnLifetime: time.Hour})
	require.EqualValues(t, 12, config.MaxConns)
	require.EqualValues(t, 2, config.MinConns)
	require.Equal(t, time.Hour, config.MaxConnLifetime)

	applyOptions(config, Options{MinConns: 50})
	require.EqualValues(t, 2, config.MinConns)
}
