package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dmsync/internal/config"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

var messageColumns = []string{"id", "conversation_key", "sender_id", "receiver_id", "content", "created_at"}

func TestGormMessageRepository_ListByConversationKeyAscending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormMessageRepository(db)

	rows := sqlmock.NewRows(messageColumns).
		AddRow("m2", "alice:bob", "bob", "alice", "second", base.Add(2*time.Second)).
		AddRow("m1", "alice:bob", "alice", "bob", "first", base.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE conversation_key = $1 ORDER BY created_at DESC`)).
		WillReturnRows(rows)

	got, err := repo.ListByConversationKey(context.Background(), "alice:bob", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMessageRepository_ListRecentForUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormMessageRepository(db)

	rows := sqlmock.NewRows(messageColumns).
		AddRow("m3", "alice:carol", "carol", "alice", "newest", base.Add(3*time.Second)).
		AddRow("m1", "alice:bob", "alice", "bob", "older", base.Add(time.Second))
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE \(?sender_id = \$1 OR receiver_id = \$2\)? ORDER BY created_at DESC`).
		WillReturnRows(rows)

	got, err := repo.ListRecentForUser(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMessageRepository_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages"`)).WillReturnError(assert.AnError)

	_, err := repo.ListByConversationKey(context.Background(), "alice:bob", 0)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGormUserRepository_EmptyIDsSkipsQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormUserRepository(db)

	infos, err := repo.GetMultipleBasicInfoByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDSN(t *testing.T) {
	cfg := testDatabaseConfig()
	assert.Equal(t, "host=db port=5432 user=dm dbname=dm_sync_db password=secret sslmode=disable", postgresDSN(cfg))

	cfg.Password = ""
	assert.NotContains(t, postgresDSN(cfg), "password=")
}

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Type:     "postgres",
		Host:     "db",
		Port:     5432,
		User:     "dm",
		Password: "secret",
		DBName:   "dm_sync_db",
		SSLMode:  "disable",
	}
}
