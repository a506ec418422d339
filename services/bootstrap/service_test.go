package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/services/aitask"
	"wecodesec-tools/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMigrateCreatesTables(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"

	svc := NewService(ServiceParams{DB: db, Config: cfg})
	require.NoError(t, svc.Migrate(context.Background()))
	require.NoError(t, svc.Migrate(context.Background()), "migration must be repeatable")

	for _, table := range []string{"t_event_activities", "t_ai_agent_task_async", "t_event_artifacts"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
	require.True(t, db.Migrator().HasColumn(&aitask.AsyncTask{}, "attempts"))
}

func TestMigrateReportsClosedDB(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"

	svc := NewService(ServiceParams{DB: testutil.ClosedDB(t), Config: cfg})
	require.Error(t, svc.Migrate(context.Background()))
}

func TestEnsureDatabase(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"
	require.NoError(t, EnsureDatabase(cfg), "non-mysql dialects are skipped")

	cfg.Database.Type = "mysql"
	cfg.Database.DBNAME = "bad`name"
	require.Error(t, EnsureDatabase(cfg))
}
