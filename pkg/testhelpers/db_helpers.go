package testhelpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/db"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// SetupTestPool connects to DATABASE_URL_FOR_TEST and applies the schema, or skips the test.
func SetupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping integration test")
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	require.NoError(t, db.ApplySchema(ctx, pool, schemaPath()))
	return pool
}

func schemaPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "db", "schema.sql")
}

// CleanTables empties every chat table.
func CleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		"TRUNCATE TABLE notifications, payments, messages, offers, conversation_participants, conversations, user_presence, user_profiles CASCADE")
	require.NoError(t, err)
}

// CreateTestProfile inserts a profile with the given role and returns its ID.
func CreateTestProfile(t *testing.T, pool *pgxpool.Pool, role string) string {
	t.Helper()

	suffix := nextSuffix()
	name := fmt.Sprintf("test-%s-%d", role, suffix)
	email := fmt.Sprintf("%s@example.com", name)

	var id string
	err := pool.QueryRow(context.Background(),
		"INSERT INTO user_profiles (full_name, email, role, district, state) VALUES ($1, $2, $3, 'Nashik', 'Maharashtra') RETURNING id::text",
		name, email, role).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateTestOffer inserts a pending offer between buyer and farmer and returns its ID.
func CreateTestOffer(t *testing.T, pool *pgxpool.Pool, buyerID, farmerID, conversationID string) string {
	t.Helper()

	var cid any
	if conversationID != "" {
		cid = conversationID
	}
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO offers (id, listing_id, buyer_id, farmer_id, conversation_id, offer_price, quantity)
		 VALUES (gen_random_uuid(), gen_random_uuid(), $1, $2, $3, 100, 5) RETURNING id::text`,
		buyerID, farmerID, cid).Scan(&id)
	require.NoError(t, err)
	return id
}
