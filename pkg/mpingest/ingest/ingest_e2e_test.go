package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/mpingest/pkg/mpingest/metrics"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/store/sqlite"
)

func writeGzipFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// TestSQLiteEndToEnd runs both modes against a real database, the way the
// command line does: groups first, then topics from a compressed dump.
func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.OpenSQLite(ctx, filepath.Join(t.TempDir(), "medline.db"))
	require.NoError(t, err)
	defer st.Close()

	m := metrics.New()
	e, err := NewEngine(st, testIndex(), WithMetrics(m))
	require.NoError(t, err)

	_, err = st.UpsertDescriptor(ctx, "D000740", "Anemia")
	require.NoError(t, err)

	_, err = e.Run(ctx, ModeGroups, writeFixture(t, "mplus_topic_groups_2024-05-01.xml", groupsXML))
	require.NoError(t, err)

	topics := writeGzipFixture(t, "mplus_topics_2024-05-01.xml.gz", topicsXML)
	summaries, err := e.Run(ctx, ModeTopics, topics)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	anemia, found, err := st.GetTopic(ctx, 26)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2020, anemia.DateCreated.Year())
	assert.Empty(t, anemia.Description)

	iron, found, err := st.GetTopic(ctx, 1466)
	require.NoError(t, err)
	require.True(t, found)

	related, err := st.Linked(ctx, store.LinkRelatedTopic, iron.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{anemia.ID}, related)

	before := counts(t, st)
	_, err = e.Run(ctx, ModeTopics, topics)
	require.NoError(t, err)
	assert.Equal(t, before, counts(t, st))

	passes, err := testutil.GatherAndCount(m.Gatherer(), "mpingest_pass_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, passes, "groups pass plus two topics passes")
}
