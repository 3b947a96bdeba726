package pg

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_dsn(t *testing.T) {
	pgConf := Config{Host: "db", Port: "5432", User: "u", Password: "p", Database: "inbox"}
	assert.Equal(t, "host=db user=u password=p dbname=inbox port=5432 sslmode=disable", pgConf.dsn())

	explicit := Config{Driver: DriverPostgres, DSN: "postgres://x"}
	assert.Equal(t, "postgres://x", explicit.dsn())

	lite := Config{Driver: DriverSQLite, DSN: "file.db", Host: "ignored"}
	assert.Equal(t, "file.db", lite.dsn())
}

func TestCreate_UnsupportedDriver(t *testing.T) {
	_, err := Create(Config{Driver: "oracle"}, false)
	assert.Error(t, err)
}

func TestCreateReadWrite_SQLite(t *testing.T) {
	conf := Config{Driver: DriverSQLite, DSN: ":memory:"}
	db, err := CreateReadWrite(conf, conf, false)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))
	assert.Same(t, db.read, db.write)
}

func TestDB_WithinTransaction(t *testing.T) {
	conf := Config{Driver: DriverSQLite, DSN: ":memory:"}
	db, err := CreateReadWrite(conf, conf, false)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Write(ctx).Exec("CREATE TABLE t (v INTEGER)").Error)

	boom := errors.New("boom")
	err = db.WithinTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, db.Write(ctx).Exec("INSERT INTO t (v) VALUES (1)").Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Read(ctx).Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestMigrate_SQLite(t *testing.T) {
	conf := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "inbox.db")}
	require.NoError(t, Migrate(conf, "../../migrations"))

	db, err := Create(conf, false)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("processed_messages"))
	assert.True(t, db.Migrator().HasIndex("processed_messages", "idx_processed_messages_message_id"))
}
