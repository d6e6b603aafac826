package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort-ledger/ledger"
)

func TestImportRoster(t *testing.T) {
	mgr, err := ledger.OpenManager(ledger.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), ledger.Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer mgr.Close()
	ctx := context.Background()

	_, _, err = mgr.Login(ctx, "minji", ledger.Female)
	require.NoError(t, err)

	roster := "name,gender\nminji,Female\nhyun, Male\n\nsora\nbad,Other\n"
	created, existing, failed := importRoster(ctx, mgr, strings.NewReader(roster))
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, existing)
	assert.Equal(t, 1, failed)

	members, err := mgr.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)
	genders := map[string]ledger.Gender{}
	for _, m := range members {
		genders[m.Name] = m.Gender
	}
	assert.Equal(t, ledger.Male, genders["hyun"])
	assert.Equal(t, ledger.Female, genders["sora"])
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	t.Setenv("LEDGER_DB_DRIVER", "sqlite3")
	t.Setenv("LEDGER_DB_DSN", dbPath)
	t.Setenv("LEDGER_TIMEZONE", "Asia/Seoul")

	roster := filepath.Join(dir, "roster.csv")
	require.NoError(t, os.WriteFile(roster, []byte("yuna,Female\ntaemin,Male\n"), 0o644))

	cmd := importCommand()
	cmd.SetArgs([]string{"--roster", roster, "--env-file", filepath.Join(dir, "missing.env")})
	require.NoError(t, cmd.Execute())

	mgr, err := ledger.OpenManager(ledger.DriverSQLite, dbPath, ledger.Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer mgr.Close()
	members, err := mgr.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 2)

	missing := importCommand()
	missing.SetArgs([]string{"--roster", filepath.Join(dir, "nope.csv"), "--env-file", filepath.Join(dir, "missing.env")})
	missing.SetErr(io.Discard)
	assert.Error(t, missing.Execute())
}
