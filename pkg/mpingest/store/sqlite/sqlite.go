package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/mpingest/pkg/mpingest/store"
)

const dateLayout = "2006-01-02"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

var _ store.Store = (*sqliteStore)(nil)

// entityTables maps entities to their tables.
var entityTables = map[store.Entity]string{
	store.EntityGroupClass:       "health_topic_group_class",
	store.EntityGroup:            "health_topic_group",
	store.EntityBodyPart:         "body_part",
	store.EntityTopic:            "health_topic",
	store.EntityAlsoCalled:       "also_called",
	store.EntityPrimaryInstitute: "primary_institute",
	store.EntitySeeReference:     "see_reference",
	store.EntityDescriptor:       "mesh_descriptor",
}

type linkTable struct {
	name  string
	other string // column holding the associated id
}

// linkTables maps association kinds to their join tables.
var linkTables = map[store.LinkKind]linkTable{
	store.LinkAlsoCalled:   {"health_topic_also_called", "also_called_id"},
	store.LinkGroup:        {"health_topic_health_topic_group", "health_topic_group_id"},
	store.LinkDescriptor:   {"health_topic_descriptor", "descriptor_id"},
	store.LinkRelatedTopic: {"health_topic_related_health_topic", "related_health_topic_id"},
	store.LinkSeeReference: {"health_topic_see_reference", "see_reference_id"},
	store.LinkBodyPart:     {"health_topic_body_part", "body_part_id"},
}

// OpenSQLite opens a SQLite database with WAL mode and foreign keys enabled
// and creates the schema if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// The pipeline is sequential; one connection keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS health_topic_group_class (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS health_topic_group (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER UNIQUE NOT NULL,
	name TEXT,
	url TEXT,
	health_topic_group_class_id INTEGER NOT NULL,
	FOREIGN KEY(health_topic_group_class_id) REFERENCES health_topic_group_class(id)
);

CREATE TABLE IF NOT EXISTS body_part (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	health_topic_group_id INTEGER NOT NULL,
	UNIQUE(name, health_topic_group_id),
	FOREIGN KEY(health_topic_group_id) REFERENCES health_topic_group(id)
);

CREATE TABLE IF NOT EXISTS primary_institute (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	url TEXT
);

CREATE TABLE IF NOT EXISTS health_topic (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER UNIQUE NOT NULL,
	title TEXT,
	url TEXT,
	description TEXT,
	summary TEXT,
	date_created TEXT,
	primary_institute_id INTEGER,
	FOREIGN KEY(primary_institute_id) REFERENCES primary_institute(id)
);

CREATE TABLE IF NOT EXISTS also_called (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS see_reference (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS mesh_descriptor (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ui TEXT UNIQUE NOT NULL,
	name TEXT
);

CREATE TABLE IF NOT EXISTS health_topic_also_called (
	health_topic_id INTEGER NOT NULL,
	also_called_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, also_called_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(also_called_id) REFERENCES also_called(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS health_topic_health_topic_group (
	health_topic_id INTEGER NOT NULL,
	health_topic_group_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, health_topic_group_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(health_topic_group_id) REFERENCES health_topic_group(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS health_topic_descriptor (
	health_topic_id INTEGER NOT NULL,
	descriptor_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, descriptor_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(descriptor_id) REFERENCES mesh_descriptor(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS health_topic_related_health_topic (
	health_topic_id INTEGER NOT NULL,
	related_health_topic_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, related_health_topic_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(related_health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS health_topic_see_reference (
	health_topic_id INTEGER NOT NULL,
	see_reference_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, see_reference_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(see_reference_id) REFERENCES see_reference(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS health_topic_body_part (
	health_topic_id INTEGER NOT NULL,
	body_part_id INTEGER NOT NULL,
	UNIQUE(health_topic_id, body_part_id),
	FOREIGN KEY(health_topic_id) REFERENCES health_topic(id) ON DELETE CASCADE,
	FOREIGN KEY(body_part_id) REFERENCES body_part(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_health_topic_group_name ON health_topic_group(name);
CREATE INDEX IF NOT EXISTS idx_health_topic_group_url ON health_topic_group(url);
CREATE INDEX IF NOT EXISTS idx_body_part_name ON body_part(name);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// UpsertGroupClass inserts a group class or returns the existing one.
func (s *sqliteStore) UpsertGroupClass(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO health_topic_group_class (name) VALUES (?)
ON CONFLICT(name) DO UPDATE SET name=excluded.name
RETURNING id;
`, name).Scan(&id)
	return id, err
}

// UpsertGroup inserts or updates a group keyed by its external id.
func (s *sqliteStore) UpsertGroup(ctx context.Context, g store.Group) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO health_topic_group (external_id, name, url, health_topic_group_class_id)
VALUES (?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	name=excluded.name,
	url=excluded.url,
	health_topic_group_class_id=excluded.health_topic_group_class_id
RETURNING id;
`, g.ExternalID, nullString(g.Name), nullString(g.URL), g.GroupClassID).Scan(&id)
	return id, err
}

// UpsertBodyPart inserts a body part under a group or returns the existing one.
func (s *sqliteStore) UpsertBodyPart(ctx context.Context, name string, groupID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO body_part (name, health_topic_group_id) VALUES (?, ?)
ON CONFLICT(name, health_topic_group_id) DO UPDATE SET name=excluded.name
RETURNING id;
`, name, groupID).Scan(&id)
	return id, err
}

// UpsertTopic inserts or updates a health topic keyed by its external id.
func (s *sqliteStore) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	var created sql.NullString
	if !t.DateCreated.IsZero() {
		created = sql.NullString{String: t.DateCreated.Format(dateLayout), Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO health_topic (external_id, title, url, description, summary, date_created, primary_institute_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	title=excluded.title,
	url=excluded.url,
	description=excluded.description,
	summary=excluded.summary,
	date_created=excluded.date_created,
	primary_institute_id=excluded.primary_institute_id
RETURNING id;
`,
		t.ExternalID,
		nullString(t.Title),
		nullString(t.URL),
		nullString(t.Description),
		nullString(t.Summary),
		created,
		nullID(t.PrimaryInstituteID),
	).Scan(&id)
	return id, err
}

// UpsertAlsoCalled inserts an also-called name unless it already exists.
func (s *sqliteStore) UpsertAlsoCalled(ctx context.Context, name string) (int64, error) {
	return s.insertOrIgnore(ctx, "also_called", name)
}

// UpsertSeeReference inserts a see-reference unless it already exists.
func (s *sqliteStore) UpsertSeeReference(ctx context.Context, name string) (int64, error) {
	return s.insertOrIgnore(ctx, "see_reference", name)
}

// UpsertPrimaryInstitute inserts or updates an institute keyed by name.
func (s *sqliteStore) UpsertPrimaryInstitute(ctx context.Context, name, url string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO primary_institute (name, url) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET url=excluded.url
RETURNING id;
`, name, nullString(url)).Scan(&id)
	return id, err
}

// UpsertDescriptor inserts or updates a MeSH descriptor keyed by its UI.
func (s *sqliteStore) UpsertDescriptor(ctx context.Context, ui, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO mesh_descriptor (ui, name) VALUES (?, ?)
ON CONFLICT(ui) DO UPDATE SET name=excluded.name
RETURNING id;
`, ui, nullString(name)).Scan(&id)
	return id, err
}

func (s *sqliteStore) insertOrIgnore(ctx context.Context, table, name string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (name) VALUES (?)`, table), name); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE name=?`, table), name).Scan(&id)
	return id, err
}

// Link associates a topic with another entity; existing pairs are ignored.
func (s *sqliteStore) Link(ctx context.Context, kind store.LinkKind, topicID, otherID int64) error {
	lt, ok := linkTables[kind]
	if !ok {
		return store.ValidateLinkKind(kind)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (health_topic_id, %s) VALUES (?, ?)`, lt.name, lt.other),
		topicID, otherID)
	return err
}

// Lookup resolves a natural key to a surrogate id.
func (s *sqliteStore) Lookup(ctx context.Context, entity store.Entity, field string, value any) (int64, bool, error) {
	if err := store.ValidateLookup(entity, field); err != nil {
		return 0, false, err
	}
	if value == "" {
		return 0, false, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s = ? ORDER BY id LIMIT 1`, entityTables[entity], field),
		value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// LookupBodyPart resolves a body part by name within its group.
func (s *sqliteStore) LookupBodyPart(ctx context.Context, name string, groupID int64) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM body_part WHERE name = ? AND health_topic_group_id = ?`,
		name, groupID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetGroup retrieves a group by external id
func (s *sqliteStore) GetGroup(ctx context.Context, externalID int64) (store.Group, bool, error) {
	var (
		g         store.Group
		name, url sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, external_id, name, url, health_topic_group_class_id
FROM health_topic_group
WHERE external_id = ?;
`, externalID).Scan(&g.ID, &g.ExternalID, &name, &url, &g.GroupClassID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, false, nil
	}
	if err != nil {
		return store.Group{}, false, err
	}
	g.Name = name.String
	g.URL = url.String
	return g, true, nil
}

// GetTopic retrieves a topic by external id
func (s *sqliteStore) GetTopic(ctx context.Context, externalID int64) (store.Topic, bool, error) {
	var t store.Topic
	var title, url, desc, summary, created sql.NullString
	var institute sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, external_id, title, url, description, summary, date_created, primary_institute_id
FROM health_topic
WHERE external_id = ?;
`, externalID).Scan(&t.ID, &t.ExternalID, &title, &url, &desc, &summary, &created, &institute)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Topic{}, false, nil
	}
	if err != nil {
		return store.Topic{}, false, err
	}

	t.Title = title.String
	t.URL = url.String
	t.Description = desc.String
	t.Summary = summary.String
	t.PrimaryInstituteID = institute.Int64
	if created.Valid {
		if parsed, perr := time.Parse(dateLayout, created.String); perr == nil {
			t.DateCreated = parsed
		}
	}
	return t, true, nil
}

// Count returns the number of rows of an entity.
func (s *sqliteStore) Count(ctx context.Context, entity store.Entity) (int64, error) {
	table, ok := entityTables[entity]
	if !ok {
		return 0, store.ValidateLookup(entity, "")
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// CountLinks returns the number of associations of a kind.
func (s *sqliteStore) CountLinks(ctx context.Context, kind store.LinkKind) (int64, error) {
	lt, ok := linkTables[kind]
	if !ok {
		return 0, store.ValidateLinkKind(kind)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, lt.name)).Scan(&n)
	return n, err
}

// Linked returns the ids associated with a topic, ascending.
func (s *sqliteStore) Linked(ctx context.Context, kind store.LinkKind, topicID int64) ([]int64, error) {
	lt, ok := linkTables[kind]
	if !ok {
		return nil, store.ValidateLinkKind(kind)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE health_topic_id=? ORDER BY %s`, lt.other, lt.name, lt.other),
		topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nullString stores absent text as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
