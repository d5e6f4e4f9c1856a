package tests

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/basego/server/internal/db"
)

var pgDB *sql.DB

func TestMain(m *testing.M) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		conn, err := db.Open(context.Background(), url, zap.NewNop())
		if err != nil {
			panic(err)
		}
		if err := db.Migrate(conn, zap.NewNop()); err != nil {
			panic(err)
		}
		pgDB = conn
	}

	code := m.Run()
	if pgDB != nil {
		_ = pgDB.Close()
	}
	os.Exit(code)
}

func TestFlowPostgres(t *testing.T) {
	if pgDB == nil {
		t.Skip("DATABASE_URL not set")
	}
	suite.Run(t, &flowSuite{newBackend: func(t *testing.T) Backend {
		require.NoError(t, TruncateTables(context.Background(), pgDB))
		return PostgresBackend(pgDB)
	}})
}
