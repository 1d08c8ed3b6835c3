package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/store/storetest"
)

func openTemp(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, openTemp)
}

// TestSQLiteReopenKeepsData checks the schema is created idempotently and
// rows survive a reopen.
func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	classID, err := st.UpsertGroupClass(ctx, "Cancers")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer st.Close()

	again, err := st.UpsertGroupClass(ctx, "Cancers")
	require.NoError(t, err)
	assert.Equal(t, classID, again)
}

func TestSQLiteForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)

	_, err := st.UpsertGroup(ctx, store.Group{ExternalID: 1, Name: "Orphan", GroupClassID: 999})
	assert.Error(t, err, "group class must exist")
}

func TestSQLiteLookupPlainInt(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)

	id, err := st.UpsertTopic(ctx, store.Topic{ExternalID: 1466, Title: "Iron in Your Diet"})
	require.NoError(t, err)

	got, found, err := st.Lookup(ctx, store.EntityTopic, "external_id", 1466)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)
}
