package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/mpingest/pkg/mpingest/decode"
	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
	"github.com/cognicore/mpingest/pkg/mpingest/metrics"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/store/memstore"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

const groupsXML = `<?xml version="1.0" encoding="UTF-8"?>
<groups total="3" date-generated="05/01/2024 03:30:01">
  <group url="https://medlineplus.gov/cancers.html" id="5">Cancers</group>
  <group url="https://medlineplus.gov/colon.html" id="7">Colon Cancer</group>
  <group url="https://medlineplus.gov/spanish/cancer.html" id="8" language="Spanish">Cáncer</group>
  <group url="https://medlineplus.gov/blood.html" id="1">Blood, Heart and Circulation</group>
</groups>`

const topicsXML = `<?xml version="1.0" encoding="UTF-8"?>
<health-topics total="4" date-generated="05/01/2024 03:30:01">
  <health-topic title="Anemia" url="https://medlineplus.gov/anemia.html" id="26" language="English" date-created="01/15/2020">
    <also-called>Iron poor blood</also-called>
    <full-summary>&lt;p&gt;Anemia&lt;/p&gt;</full-summary>
    <group url="https://medlineplus.gov/blood.html" id="1">Blood, Heart and Circulation</group>
    <group url="https://medlineplus.gov/nowhere.html" id="99">Unlisted Group</group>
    <mesh-heading><descriptor id="D000740">Anemia</descriptor></mesh-heading>
    <mesh-heading><descriptor id="D999999">Unknown</descriptor></mesh-heading>
    <primary-institute url="https://www.nhlbi.nih.gov/">NHLBI</primary-institute>
    <related-topic url="https://medlineplus.gov/iron.html" id="1466">Iron in Your Diet</related-topic>
    <related-topic url="https://medlineplus.gov/gone.html" id="4040">Retired Topic</related-topic>
    <see-reference>Iron Deficiency Anemia</see-reference>
  </health-topic>
  <health-topic title="Anemia" url="https://medlineplus.gov/spanish/anemia.html" id="3060" language="Spanish" date-created="01/15/2020">
    <group url="https://medlineplus.gov/blood.html" id="1">Blood, Heart and Circulation</group>
  </health-topic>
  <health-topic title="Iron in Your Diet" url="https://medlineplus.gov/iron.html" id="1466" language="English" date-created="02/01/2021">
    <also-called>Iron poor blood</also-called>
    <primary-institute url="https://www.nhlbi.nih.gov/">NHLBI</primary-institute>
    <related-topic url="https://medlineplus.gov/anemia.html" id="26">Anemia</related-topic>
  </health-topic>
</health-topics>`

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testIndex() *taxonomy.Index {
	return taxonomy.New(
		[]taxonomy.GroupClass{
			{Name: "Cancers", Groups: []taxonomy.GroupLink{
				{Name: "Cancers", URL: "https://medlineplus.gov/cancers.html"},
				{Name: "Colon Cancer", URL: "https://medlineplus.gov/colon.html"},
			}},
			{Name: "Body Location/Systems", Groups: []taxonomy.GroupLink{
				{Name: "Blood, Heart and Circulation", URL: "https://medlineplus.gov/blood.html"},
			}},
		},
		[]taxonomy.BodyPart{
			{GroupURL: "https://medlineplus.gov/blood.html", Name: "Blood", Topics: []taxonomy.TopicLink{
				{Name: "Anemia", URL: "https://medlineplus.gov/anemia.html"},
			}},
			{GroupURL: "https://medlineplus.gov/missing.html", Name: "Spleen", Topics: []taxonomy.TopicLink{
				{Name: "Anemia", URL: "https://medlineplus.gov/anemia.html"},
			}},
		},
	)
}

func newEngine(t *testing.T, st store.Store) *Engine {
	t.Helper()
	e, err := NewEngine(st, testIndex(), WithMetrics(metrics.New()))
	require.NoError(t, err)
	return e
}

func counts(t *testing.T, st store.Store) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	out := map[string]int64{}
	for _, e := range []store.Entity{
		store.EntityGroupClass, store.EntityGroup, store.EntityBodyPart, store.EntityTopic,
		store.EntityAlsoCalled, store.EntityPrimaryInstitute, store.EntitySeeReference,
	} {
		n, err := st.Count(ctx, e)
		require.NoError(t, err)
		out[string(e)] = n
	}
	for _, k := range store.LinkKinds {
		n, err := st.CountLinks(ctx, k)
		require.NoError(t, err)
		out["link:"+string(k)] = n
	}
	return out
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, testIndex())
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = NewEngine(memstore.New(), nil)
	assert.ErrorIs(t, err, ErrNilTaxonomy)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("topics")
	require.NoError(t, err)
	assert.Equal(t, ModeTopics, m)

	_, err = ParseMode("Topics")
	assert.Error(t, err)
}

func TestRunGroupsReconcilesGroupClass(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)

	summary, err := e.RunGroups(ctx, writeFixture(t, "groups.xml", groupsXML))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Records)

	classID, found, err := e.resolver.GroupClassByName(ctx, "Cancers")
	require.NoError(t, err)
	require.True(t, found)

	colon, found, err := st.GetGroup(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, classID, colon.GroupClassID)
	assert.Equal(t, "https://medlineplus.gov/colon.html", colon.URL)

	_, found, err = st.GetGroup(ctx, 8)
	require.NoError(t, err)
	assert.False(t, found, "Spanish group must not be stored")
}

func TestRunGroupsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)
	path := writeFixture(t, "groups.xml", groupsXML)

	_, err := e.RunGroups(ctx, path)
	require.NoError(t, err)
	first := counts(t, st)

	_, err = e.RunGroups(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, counts(t, st))
	assert.Equal(t, int64(2), first[string(store.EntityGroupClass)])
}

func TestRunGroupsUnknownClassIsFatal(t *testing.T) {
	st := memstore.New()
	e := newEngine(t, st)
	path := writeFixture(t, "groups.xml", `<groups>
  <group url="/a" id="1">Cancers</group>
  <group url="/b" id="2">Not In Taxonomy</group>
  <group url="/c" id="3">Colon Cancer</group>
</groups>`)

	_, err := e.RunGroups(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerr.ErrUnresolved)

	n, err := st.Count(context.Background(), store.EntityGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "run stops at the unresolved group")
}

func seedForTopics(t *testing.T, st store.Store, e *Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.RunGroups(ctx, writeFixture(t, "groups.xml", groupsXML))
	require.NoError(t, err)
	_, err = st.UpsertDescriptor(ctx, "D000740", "Anemia")
	require.NoError(t, err)
}

func TestTopicPassesLinkRelatedTopicsOnlyOnSecondPass(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)
	seedForTopics(t, st, e)
	path := writeFixture(t, "topics.xml", topicsXML)

	first, err := e.RunTopicPass(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Records)

	n, err := st.CountLinks(ctx, store.LinkRelatedTopic)
	require.NoError(t, err)
	assert.Zero(t, n)

	second, err := e.RunTopicPass(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Records)

	n, err = st.CountLinks(ctx, store.LinkRelatedTopic)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "backward and forward references, retired topic skipped")

	anemia, found, err := st.GetTopic(ctx, 26)
	require.NoError(t, err)
	require.True(t, found)
	iron, found, err := st.GetTopic(ctx, 1466)
	require.NoError(t, err)
	require.True(t, found)

	related, err := st.Linked(ctx, store.LinkRelatedTopic, anemia.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{iron.ID}, related)
}

func TestRunTopicsPersistsTopicGraph(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)
	seedForTopics(t, st, e)

	summaries, err := e.RunTopics(ctx, writeFixture(t, "topics.xml", topicsXML))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].Pass)
	assert.Equal(t, 2, summaries[1].Pass)

	anemia, found, err := st.GetTopic(ctx, 26)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Anemia", anemia.Title)
	assert.Equal(t, "<p>Anemia</p>", anemia.Summary)
	assert.Empty(t, anemia.Description)
	assert.NotZero(t, anemia.PrimaryInstituteID)

	_, found, err = st.GetTopic(ctx, 3060)
	require.NoError(t, err)
	assert.False(t, found, "Spanish topic must not be stored")

	c := counts(t, st)
	assert.Equal(t, int64(1), c[string(store.EntityAlsoCalled)], "shared also-called stored once")
	assert.Equal(t, int64(1), c[string(store.EntityPrimaryInstitute)])
	assert.Equal(t, int64(1), c[string(store.EntitySeeReference)])
	assert.Equal(t, int64(1), c[string(store.EntityBodyPart)], "body part of unknown group skipped")
	assert.Equal(t, int64(2), c["link:"+string(store.LinkAlsoCalled)])
	assert.Equal(t, int64(1), c["link:"+string(store.LinkGroup)], "unlisted group skipped")
	assert.Equal(t, int64(1), c["link:"+string(store.LinkDescriptor)], "unknown descriptor skipped")
	assert.Equal(t, int64(1), c["link:"+string(store.LinkBodyPart)])
	assert.Equal(t, int64(1), c["link:"+string(store.LinkSeeReference)])
	assert.Equal(t, int64(2), c["link:"+string(store.LinkRelatedTopic)])

	bodyParts, err := st.Linked(ctx, store.LinkBodyPart, anemia.ID)
	require.NoError(t, err)
	blood, found, err := e.resolver.BodyPartInGroup(ctx, "Blood", "https://medlineplus.gov/blood.html")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int64{blood}, bodyParts)
}

func TestRunTopicsLinksBodyPartOfOwningGroup(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	idx := taxonomy.New(
		[]taxonomy.GroupClass{
			{Name: "Body Location/Systems", Groups: []taxonomy.GroupLink{
				{Name: "Blood, Heart and Circulation", URL: "/circulation"},
				{Name: "Blood Disorders", URL: "/disorders"},
			}},
		},
		[]taxonomy.BodyPart{
			{GroupURL: "/circulation", Name: "Blood", Topics: []taxonomy.TopicLink{{Name: "Bleeding", URL: "/bleeding"}}},
			{GroupURL: "/disorders", Name: "Blood", Topics: []taxonomy.TopicLink{{Name: "Sickle Cell Disease", URL: "/sickle"}}},
		},
	)
	e, err := NewEngine(st, idx, WithMetrics(metrics.New()))
	require.NoError(t, err)

	_, err = e.RunGroups(ctx, writeFixture(t, "groups.xml", `<groups>
  <group url="/circulation" id="1">Blood, Heart and Circulation</group>
  <group url="/disorders" id="2">Blood Disorders</group>
</groups>`))
	require.NoError(t, err)
	_, err = e.RunTopics(ctx, writeFixture(t, "topics.xml", `<health-topics>
  <health-topic title="Bleeding" url="/bleeding" id="10" language="English" date-created="01/01/2020"/>
  <health-topic title="Sickle Cell Disease" url="/sickle" id="11" language="English" date-created="01/01/2020"/>
</health-topics>`))
	require.NoError(t, err)

	n, err := st.Count(ctx, store.EntityBodyPart)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	circulation, found, err := e.resolver.BodyPartInGroup(ctx, "Blood", "/circulation")
	require.NoError(t, err)
	require.True(t, found)
	disorders, found, err := e.resolver.BodyPartInGroup(ctx, "Blood", "/disorders")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEqual(t, circulation, disorders)

	for externalID, want := range map[int64]int64{10: circulation, 11: disorders} {
		topic, found, err := st.GetTopic(ctx, externalID)
		require.NoError(t, err)
		require.True(t, found)
		linked, err := st.Linked(ctx, store.LinkBodyPart, topic.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{want}, linked, topic.Title)
	}
}

func TestRunTopicsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)
	seedForTopics(t, st, e)
	path := writeFixture(t, "topics.xml", topicsXML)

	_, err := e.RunTopics(ctx, path)
	require.NoError(t, err)
	first := counts(t, st)

	_, err = e.RunTopics(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, counts(t, st))
}

func TestRunTopicsUpdatesChangedFields(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)

	_, err := e.RunTopics(ctx, writeFixture(t, "v1.xml", `<health-topics>
  <health-topic title="Old" url="/t" id="5" language="English" date-created="01/01/2020"/>
</health-topics>`))
	require.NoError(t, err)
	_, err = e.RunTopics(ctx, writeFixture(t, "v2.xml", `<health-topics>
  <health-topic title="New" url="/t" id="5" language="English" date-created="01/01/2020" meta-desc="d"/>
</health-topics>`))
	require.NoError(t, err)

	topic, found, err := st.GetTopic(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New", topic.Title)
	assert.Equal(t, "d", topic.Description)

	n, err := st.Count(ctx, store.EntityTopic)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunTopicsToleratesUnresolvedAssociations(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, st)

	summaries, err := e.RunTopics(ctx, writeFixture(t, "topics.xml", topicsXML))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Positive(t, summaries[1].Misses)

	n, err := st.CountLinks(ctx, store.LinkGroup)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = st.Count(ctx, store.EntityTopic)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRunTopicsStopsOnBadDate(t *testing.T) {
	st := memstore.New()
	e := newEngine(t, st)
	path := writeFixture(t, "topics.xml", `<health-topics>
  <health-topic title="A" url="/a" id="1" language="English" date-created="01/01/2020"/>
  <health-topic title="B" url="/b" id="2" language="English" date-created="2020-01-01"/>
</health-topics>`)

	_, err := e.RunTopics(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, decode.ErrInvalidDate)
	assert.Contains(t, err.Error(), "pass 1")
}

func TestRunTopicsMissingFile(t *testing.T) {
	e := newEngine(t, memstore.New())
	_, err := e.RunTopics(context.Background(), filepath.Join(t.TempDir(), "absent.xml"))
	assert.Error(t, err)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, memstore.New())
	_, err := e.Run(ctx, ModeTopics, writeFixture(t, "topics.xml", topicsXML))
	assert.ErrorIs(t, err, context.Canceled)
}
