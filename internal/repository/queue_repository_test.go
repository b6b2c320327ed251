package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nullEntryConnector serves a single dispatch_queue row the way postgres
// returns a freshly enqueued entry: last_error, execution_id and
// claimed_at are all NULL.
type nullEntryConnector struct{}

func (nullEntryConnector) Connect(context.Context) (driver.Conn, error) { return nullEntryConn{}, nil }
func (nullEntryConnector) Driver() driver.Driver                        { return nil }

type nullEntryConn struct{}

func (nullEntryConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (nullEntryConn) Close() error                        { return nil }
func (nullEntryConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (nullEntryConn) QueryContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Rows, error) {
	return &nullEntryRows{}, nil
}

type nullEntryRows struct {
	served bool
}

func (r *nullEntryRows) Columns() []string {
	return []string{
		"id", "prospect_id", "step_index", "scheduled_for", "attempt_count", "status",
		"last_error", "execution_id", "claimed_at", "created_at", "updated_at",
	}
}

func (r *nullEntryRows) Close() error { return nil }

func (r *nullEntryRows) Next(dest []driver.Value) error {
	if r.served {
		return io.EOF
	}
	r.served = true
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	row := []driver.Value{
		"entry-1", "prospect-1", int64(0), now, int64(0), "pending",
		nil, nil, nil, now, now,
	}
	copy(dest, row)
	return nil
}

func TestGetByIDScansFreshEntryWithNullColumns(t *testing.T) {
	db := sql.OpenDB(nullEntryConnector{})
	defer db.Close()

	repo := &QueueRepository{DB: db}
	entry, err := repo.GetByID(context.Background(), "entry-1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "entry-1", entry.ID)
	assert.Equal(t, "prospect-1", entry.ProspectID)
	assert.Equal(t, "", entry.LastError)
	assert.Equal(t, "", entry.ExecutionID)
	assert.Nil(t, entry.ClaimedAt)
}
