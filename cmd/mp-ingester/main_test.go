package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/mpingest/pkg/mpingest/config"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/store/sqlite"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

const groupsXML = `<?xml version="1.0" encoding="UTF-8"?>
<groups total="2">
  <group url="https://medlineplus.gov/blood.html" id="1">Blood, Heart and Circulation</group>
  <group url="https://medlineplus.gov/cancers.html" id="5">Cancers</group>
</groups>`

const topicsXML = `<?xml version="1.0" encoding="UTF-8"?>
<health-topics total="2">
  <health-topic title="Anemia" url="https://medlineplus.gov/anemia.html" id="26" language="English" date-created="01/15/2020">
    <group url="https://medlineplus.gov/blood.html" id="1">Blood, Heart and Circulation</group>
    <related-topic url="https://medlineplus.gov/iron.html" id="1466">Iron in Your Diet</related-topic>
  </health-topic>
  <health-topic title="Iron in Your Diet" url="https://medlineplus.gov/iron.html" id="1466" language="English" date-created="02/01/2021">
    <related-topic url="https://medlineplus.gov/anemia.html" id="26">Anemia</related-topic>
  </health-topic>
</health-topics>`

type fixture struct {
	dir      string
	db       string
	config   string
	taxonomy string
	metrics  string
}

func newFixture(t *testing.T, extraConfig string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:      dir,
		db:       filepath.Join(dir, "medline.db"),
		config:   filepath.Join(dir, "config.yaml"),
		taxonomy: filepath.Join(dir, "taxonomy.yaml"),
		metrics:  filepath.Join(dir, "mpingest.prom"),
	}

	cfg := fmt.Sprintf("sql:\n  path: %s\nmetrics:\n  textfile: %s\n%s", f.db, f.metrics, extraConfig)
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))

	require.NoError(t, config.SaveTaxonomy(f.taxonomy, &taxonomy.Snapshot{
		GroupClasses: []taxonomy.GroupClass{
			{Name: "Body Location/Systems", Groups: []taxonomy.GroupLink{
				{Name: "Blood, Heart and Circulation", URL: "https://medlineplus.gov/blood.html"},
			}},
			{Name: "Disorders and Conditions", Groups: []taxonomy.GroupLink{
				{Name: "Cancers", URL: "https://medlineplus.gov/cancers.html"},
			}},
		},
		BodyParts: []taxonomy.BodyPart{
			{GroupURL: "https://medlineplus.gov/blood.html", Name: "Blood", Topics: []taxonomy.TopicLink{
				{Name: "Anemia", URL: "https://medlineplus.gov/anemia.html"},
			}},
		},
	}))
	return f
}

func (f fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var logs bytes.Buffer
	app := newApp()
	app.ErrWriter = &logs
	err := app.Run(append([]string{"mp-ingester"}, args...))
	return logs.String(), err
}

func TestModeIsRequired(t *testing.T) {
	_, err := runApp(t, "--filename", "x.xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestUnknownMode(t *testing.T) {
	f := newFixture(t, "")
	_, err := runApp(t, "--mode", "pets", "--config-file", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInvalidLogLevel(t *testing.T) {
	f := newFixture(t, "")
	_, err := runApp(t, "--mode", "groups", "--config-file", f.config, "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLoggerTagsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "DEBUG")
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "run_id=")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestLogLevelDefaultsFromConfig(t *testing.T) {
	f := newFixture(t, "log:\n  level: error\n")
	groups := f.write(t, "groups.xml", groupsXML)

	logs, err := runApp(t, "--mode", "groups", "--filename", groups, "--config-file", f.config, "--taxonomy", f.taxonomy)
	require.NoError(t, err)
	assert.NotContains(t, logs, "ingestion complete")
}

func TestIngestFromLocalFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	groups := f.write(t, "groups.xml", groupsXML)
	topics := f.write(t, "topics.xml", topicsXML)
	dump := filepath.Join(f.dir, "dump.yaml")

	logs, err := runApp(t, "--mode", "groups", "--filename", groups, "--config-file", f.config,
		"--taxonomy", f.taxonomy, "--dump-taxonomy", dump)
	require.NoError(t, err)
	assert.Contains(t, logs, "ingestion complete")

	_, err = config.LoadTaxonomy(dump)
	require.NoError(t, err)

	_, err = runApp(t, "--mode", "topics", "--filename", topics, "--config-file", f.config, "--taxonomy", f.taxonomy)
	require.NoError(t, err)

	st, err := sqlite.OpenSQLite(ctx, f.db)
	require.NoError(t, err)
	defer st.Close()

	for entity, want := range map[store.Entity]int64{
		store.EntityGroupClass: 2,
		store.EntityGroup:      2,
		store.EntityBodyPart:   1,
		store.EntityTopic:      2,
	} {
		n, err := st.Count(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, want, n, entity)
	}
	for kind, want := range map[store.LinkKind]int64{
		store.LinkGroup:        1,
		store.LinkBodyPart:     1,
		store.LinkRelatedTopic: 2,
	} {
		n, err := st.CountLinks(ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, want, n, kind)
	}

	prom, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `mpingest_records_ingested_total{kind="health-topic"} 4`)
}

func TestIngestDownloadsLatestFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xml.html":
			fmt.Fprint(w, `<html><body><a href="/xml/mplus_topic_groups_2024-05-01.xml">Groups</a></body></html>`)
		case "/xml/mplus_topic_groups_2024-05-01.xml":
			fmt.Fprint(w, groupsXML)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Setenv("TMPDIR", t.TempDir())
	f := newFixture(t, fmt.Sprintf("medline:\n  xml_files_url: %s/xml.html\n", srv.URL))

	_, err := runApp(t, "--mode", "groups", "--config-file", f.config, "--taxonomy", f.taxonomy)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(os.TempDir(), "mplus_topic_groups_2024-05-01.xml"))
	require.NoError(t, err)

	st, err := sqlite.OpenSQLite(context.Background(), f.db)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count(context.Background(), store.EntityGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConfigFileFromEnvironment(t *testing.T) {
	f := newFixture(t, "")
	groups := f.write(t, "groups.xml", groupsXML)
	t.Setenv(config.EnvConfigFile, f.config)

	_, err := runApp(t, "--mode", "groups", "--filename", groups, "--taxonomy", f.taxonomy)
	require.NoError(t, err)

	_, err = os.Stat(f.db)
	assert.NoError(t, err)
}
