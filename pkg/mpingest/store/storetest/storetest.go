// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
)

// Run exercises st against the idempotent upsert contract.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("GroupClassIdempotent", func(t *testing.T) { testGroupClass(t, open(t)) })
	t.Run("GroupUpsertByExternalID", func(t *testing.T) { testGroup(t, open(t)) })
	t.Run("BodyPartPerGroup", func(t *testing.T) { testBodyPart(t, open(t)) })
	t.Run("TopicUpsert", func(t *testing.T) { testTopic(t, open(t)) })
	t.Run("NamedEntities", func(t *testing.T) { testNamed(t, open(t)) })
	t.Run("LinksIdempotent", func(t *testing.T) { testLinks(t, open(t)) })
	t.Run("LookupValidation", func(t *testing.T) { testLookupValidation(t, open(t)) })
	t.Run("EmptyValueMisses", func(t *testing.T) { testEmptyValueMisses(t, open(t)) })
}

func testGroupClass(t *testing.T, st store.Store) {
	ctx := context.Background()

	id1, err := st.UpsertGroupClass(ctx, "Disorders and Conditions")
	require.NoError(t, err)
	id2, err := st.UpsertGroupClass(ctx, "Disorders and Conditions")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := st.UpsertGroupClass(ctx, "Health and Wellness")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	n, err := st.Count(ctx, store.EntityGroupClass)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, found, err := st.Lookup(ctx, store.EntityGroupClass, "name", "Health and Wellness")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, other, got)
}

func testGroup(t *testing.T, st store.Store) {
	ctx := context.Background()

	classA, err := st.UpsertGroupClass(ctx, "A")
	require.NoError(t, err)
	classB, err := st.UpsertGroupClass(ctx, "B")
	require.NoError(t, err)

	id1, err := st.UpsertGroup(ctx, store.Group{ExternalID: 7, Name: "Cancers", URL: "/cancers", GroupClassID: classA})
	require.NoError(t, err)
	id2, err := st.UpsertGroup(ctx, store.Group{ExternalID: 7, Name: "Cancers (renamed)", URL: "/cancers", GroupClassID: classB})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	g, found, err := st.GetGroup(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Cancers (renamed)", g.Name)
	assert.Equal(t, classB, g.GroupClassID)

	n, err := st.Count(ctx, store.EntityGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byExt, found, err := st.Lookup(ctx, store.EntityGroup, "external_id", int64(7))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id1, byExt)

	byURL, found, err := st.Lookup(ctx, store.EntityGroup, "url", "/cancers")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id1, byURL)

	_, found, err = st.Lookup(ctx, store.EntityGroup, "name", "Cancers")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = st.GetGroup(ctx, 8)
	require.NoError(t, err)
	assert.False(t, found)
}

func testBodyPart(t *testing.T, st store.Store) {
	ctx := context.Background()

	class, err := st.UpsertGroupClass(ctx, "A")
	require.NoError(t, err)
	g1, err := st.UpsertGroup(ctx, store.Group{ExternalID: 1, Name: "G1", GroupClassID: class})
	require.NoError(t, err)
	g2, err := st.UpsertGroup(ctx, store.Group{ExternalID: 2, Name: "G2", GroupClassID: class})
	require.NoError(t, err)

	a, err := st.UpsertBodyPart(ctx, "Heart", g1)
	require.NoError(t, err)
	again, err := st.UpsertBodyPart(ctx, "Heart", g1)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := st.UpsertBodyPart(ctx, "Heart", g2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	first, found, err := st.Lookup(ctx, store.EntityBodyPart, "name", "Heart")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, a, first, "lowest id wins")

	inG2, found, err := st.LookupBodyPart(ctx, "Heart", g2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, b, inG2)

	_, found, err = st.LookupBodyPart(ctx, "Lungs", g2)
	require.NoError(t, err)
	assert.False(t, found)
}

func testTopic(t *testing.T, st store.Store) {
	ctx := context.Background()

	inst, err := st.UpsertPrimaryInstitute(ctx, "NHLBI", "https://www.nhlbi.nih.gov/")
	require.NoError(t, err)
	instAgain, err := st.UpsertPrimaryInstitute(ctx, "NHLBI", "https://nhlbi.nih.gov/")
	require.NoError(t, err)
	assert.Equal(t, inst, instAgain)

	created := time.Date(2020, time.January, 15, 0, 0, 0, 0, time.UTC)
	topic := store.Topic{
		ExternalID:         26,
		Title:              "Anemia",
		URL:                "https://medlineplus.gov/anemia.html",
		Description:        "desc",
		Summary:            "summary",
		DateCreated:        created,
		PrimaryInstituteID: inst,
	}
	id1, err := st.UpsertTopic(ctx, topic)
	require.NoError(t, err)
	topic.Summary = "updated"
	id2, err := st.UpsertTopic(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, found, err := st.GetTopic(ctx, 26)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "updated", got.Summary)
	assert.Equal(t, inst, got.PrimaryInstituteID)
	assert.True(t, created.Equal(got.DateCreated))

	bare, err := st.UpsertTopic(ctx, store.Topic{ExternalID: 27, Title: "Bare"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, bare)
	got, _, err = st.GetTopic(ctx, 27)
	require.NoError(t, err)
	assert.Zero(t, got.PrimaryInstituteID)
	assert.Empty(t, got.Summary)

	byTitle, found, err := st.Lookup(ctx, store.EntityTopic, "title", "Anemia")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id1, byTitle)
}

func testNamed(t *testing.T, st store.Store) {
	ctx := context.Background()

	for _, tc := range []struct {
		entity store.Entity
		upsert func(string) (int64, error)
	}{
		{store.EntityAlsoCalled, func(n string) (int64, error) { return st.UpsertAlsoCalled(ctx, n) }},
		{store.EntitySeeReference, func(n string) (int64, error) { return st.UpsertSeeReference(ctx, n) }},
		{store.EntityDescriptor, func(n string) (int64, error) { return st.UpsertDescriptor(ctx, n, "name of "+n) }},
	} {
		id1, err := tc.upsert("X1")
		require.NoError(t, err)
		id2, err := tc.upsert("X1")
		require.NoError(t, err)
		assert.Equal(t, id1, id2, tc.entity)

		n, err := st.Count(ctx, tc.entity)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, tc.entity)
	}

	id, found, err := st.Lookup(ctx, store.EntityDescriptor, "ui", "X1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotZero(t, id)
}

func testLinks(t *testing.T, st store.Store) {
	ctx := context.Background()

	topic, err := st.UpsertTopic(ctx, store.Topic{ExternalID: 1, Title: "A"})
	require.NoError(t, err)
	other, err := st.UpsertTopic(ctx, store.Topic{ExternalID: 2, Title: "B"})
	require.NoError(t, err)
	ac, err := st.UpsertAlsoCalled(ctx, "Alias")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Link(ctx, store.LinkRelatedTopic, topic, other))
		require.NoError(t, st.Link(ctx, store.LinkAlsoCalled, topic, ac))
	}

	n, err := st.CountLinks(ctx, store.LinkRelatedTopic)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := st.Linked(ctx, store.LinkAlsoCalled, topic)
	require.NoError(t, err)
	assert.Equal(t, []int64{ac}, ids)

	ids, err = st.Linked(ctx, store.LinkGroup, topic)
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = st.Link(ctx, store.LinkKind("bogus"), topic, other)
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func testLookupValidation(t *testing.T, st store.Store) {
	ctx := context.Background()

	_, _, err := st.Lookup(ctx, store.EntityGroup, "name; DROP TABLE health_topic_group", "x")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	_, _, err = st.Lookup(ctx, store.Entity("Nope"), "name", "x")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	_, found, err := st.Lookup(ctx, store.EntityTopic, "external_id", int64(404))
	require.NoError(t, err)
	assert.False(t, found)
}

func testEmptyValueMisses(t *testing.T, st store.Store) {
	ctx := context.Background()

	class, err := st.UpsertGroupClass(ctx, "A")
	require.NoError(t, err)
	_, err = st.UpsertGroup(ctx, store.Group{ExternalID: 1, Name: "", URL: "", GroupClassID: class})
	require.NoError(t, err)

	for _, field := range []string{"name", "url"} {
		_, found, err := st.Lookup(ctx, store.EntityGroup, field, "")
		require.NoError(t, err, field)
		assert.False(t, found, field)
	}
}
