package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/keygate/internal/errs"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestKVRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key=\$1 AND \(expires_at IS NULL OR expires_at > now\(\)\)`).
		WithArgs("U:abc").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte("2")))
	v, err := r.Get(ctx, "U:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	mock.ExpectQuery(`SELECT value FROM kv_entries`).
		WithArgs("U:missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "U:missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	boom := errors.New("conn reset")
	mock.ExpectQuery(`SELECT value FROM kv_entries`).
		WithArgs("U:err").
		WillReturnError(boom)
	_, err = r.Get(ctx, "U:err")
	require.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepo_Put_TTLAndNoTTL(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)
	ctx := context.Background()

	hour := int64(time.Hour / time.Millisecond)
	mock.ExpectExec(`INSERT INTO kv_entries \(key, value, expires_at\) VALUES \(\$1, \$2, now\(\) \+ \$3::bigint \* interval '1 millisecond'\) ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("A:1", []byte("{}"), &hour).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Put(ctx, "A:1", []byte("{}"), time.Hour))

	mock.ExpectExec(`INSERT INTO kv_entries`).
		WithArgs("U:1", []byte("1"), (*int64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Put(ctx, "U:1", []byte("1"), 0))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTTLMillis(t *testing.T) {
	require.Nil(t, ttlMillis(0))
	require.Nil(t, ttlMillis(-time.Second))
	require.EqualValues(t, 1, *ttlMillis(time.Microsecond))
	require.EqualValues(t, 30_000, *ttlMillis(30*time.Second))
}

func TestKVRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)

	mock.ExpectExec(`DELETE FROM kv_entries WHERE key=\$1`).
		WithArgs("lock:C:x").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(context.Background(), "lock:C:x"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepo_PutIfAbsent(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)
	ctx := context.Background()

	ttl := int64(30_000)
	mock.ExpectExec(`now\(\) \+ \$3::bigint \* interval '1 millisecond'.*WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now\(\)`).
		WithArgs("lock:C:x", []byte("1"), &ttl).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := r.PutIfAbsent(ctx, "lock:C:x", []byte("1"), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`WHERE kv_entries.expires_at IS NOT NULL`).
		WithArgs("lock:C:x", []byte("1"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = r.PutIfAbsent(ctx, "lock:C:x", []byte("1"), 30*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepo_DeleteExpired(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)

	mock.ExpectExec(`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err := r.DeleteExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
