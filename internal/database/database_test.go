package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/livemap/internal/config"
)

type note struct {
	ID   uint `gorm:"primarykey"`
	Text string
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: "5433", Username: "u", Password: "p", Database: "livemap",
	})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=livemap sslmode=disable", dsn)
}

func TestOpenSQLite_InMemoryIsPrivate(t *testing.T) {
	m1 := NewManager(zerolog.Nop())
	db1, err := m1.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m1.Close() })
	assert.True(t, m1.InMemory)
	assert.Equal(t, DialectSQLite, db1.Dialector.Name())

	m2 := NewManager(zerolog.Nop())
	db2, err := m2.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m2.Close() })

	require.NoError(t, db1.AutoMigrate(&note{}))
	require.NoError(t, db1.Create(&note{Text: "hello"}).Error)

	assert.True(t, db1.Migrator().HasTable(&note{}))
	assert.False(t, db2.Migrator().HasTable(&note{}))
}

func TestDumpToDisk(t *testing.T) {
	m := NewManager(zerolog.Nop())
	db, err := m.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, db.AutoMigrate(&note{}))
	require.NoError(t, db.Create(&[]note{{Text: "a"}, {Text: "b"}}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, DumpToDisk(db, path))
	// a second dump replaces the first
	require.NoError(t, DumpToDisk(db, path))

	disk := NewManager(zerolog.Nop())
	ddb, err := disk.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	assert.False(t, disk.InMemory)

	var count int64
	require.NoError(t, ddb.Model(&note{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDumpToDisk_NoPath(t *testing.T) {
	assert.Error(t, DumpToDisk(nil, ""))
}

func TestDumpLoop(t *testing.T) {
	m := NewManager(zerolog.Nop())
	db, err := m.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, db.AutoMigrate(&note{}))

	path := filepath.Join(t.TempDir(), "loop.db")
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.DumpLoop(path, 10*time.Millisecond, stop)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	close(stop)
	<-done
}

func TestManager_CloseWithoutOpen(t *testing.T) {
	assert.NoError(t, NewManager(zerolog.Nop()).Close())
}
