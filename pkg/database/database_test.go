package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/club-approval-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "club", Password: "pw", Name: "club_approvals", SSLMode: "disable"})
	require.Equal(t, "host=db port=5432 user=club password=pw dbname=club_approvals sslmode=disable", dsn)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	up, err := fs.ReadFile(migrationsFS, "migrations/000001_club_approvals.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"applications", "application_documents", "revision_requests", "revision_deltas", "approval_ledger", "application_history"} {
		require.True(t, strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
