package resolver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

var testNow = time.Date(2024, 3, 14, 15, 30, 0, 0, time.UTC)

const legacySchema = `
CREATE TABLE inventry (inven TEXT, prod_type TEXT, descr TEXT);
CREATE TABLE arinv (autoid TEXT, invoice TEXT, name TEXT, inv_date TEXT, ship_date TEXT, par_time TEXT);
CREATE TABLE arinvdet (autoid TEXT, doc_aid TEXT, inven TEXT, descr TEXT,
    quan REAL, demd REAL, heightd REAL, widthd REAL, par_time TEXT);

INSERT INTO inventry VALUES ('TRIM-1', 'Trim', 'Drip edge'), ('GUT-1', 'Gutter', 'K-style'), ('VENT-1', 'Vents', 'Ridge vent');

INSERT INTO arinv VALUES
    ('100', 'INV-100', 'Acme Roofing', '2024-01-10', '2024-02-01', ''),
    ('200', 'INV-200', 'Beta Homes', '2024-02-10', '2024-03-01', ''),
    ('50', 'INV-050', 'Old Client', '2022-05-01', '', '');

INSERT INTO arinvdet VALUES
    ('1', '100', 'TRIM-1', 'Drip edge 10ft', 2, 1, 120, 4, ''),
    ('3', '100', 'GUT-1', 'Gutter 5in', 4, 0, 240, 5, ''),
    ('5', '200', 'TRIM-1', 'Drip edge 12ft', 1, 2, 144, 4, ''),
    ('7', '200', 'GUT-1', 'Gutter 6in', 3, 0, 200, 6, ''),
    ('8', '200', 'VENT-1', 'Ridge vent', 1, 0, 48, 2, ''),
    ('9', '50', 'TRIM-1', 'Drip edge 8ft', 5, 1, 96, 4, '');
`

const workflowSchema = `
CREATE TABLE flow (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE stage (id INTEGER PRIMARY KEY, name TEXT, flow_id INTEGER, position INTEGER);
CREATE TABLE item (id INTEGER PRIMARY KEY, origin_item TEXT, origin_order TEXT,
    flow_id INTEGER, stage_id INTEGER, priority INTEGER, production_date TEXT);
CREATE TABLE comment (id INTEGER PRIMARY KEY, item_id INTEGER, user_id INTEGER, text TEXT);
CREATE TABLE sales_order (id INTEGER PRIMARY KEY, origin_order TEXT, priority INTEGER, production_date TEXT);

INSERT INTO flow VALUES (1, 'Gutters');
INSERT INTO stage VALUES (1, 'New', 1, 1), (2, 'Done', 1, 2);

INSERT INTO item VALUES
    (1, '5', '200', 1, 1, 5, NULL),
    (2, '1', '100', 1, 2, 1, '2024-03-01'),
    (3, '3', '100', 1, 2, 3, '2024-03-05');

INSERT INTO comment VALUES (1, 2, 1, 'cut'), (2, 2, 2, 'bent'), (3, 3, 1, 'packed');
INSERT INTO sales_order VALUES (1, '100', 2, '2024-03-10');
`

func loadCatalog(t *testing.T) *model.Catalog {
	t.Helper()
	cat, err := model.InitRegistry("../../catalog")
	if err != nil {
		t.Fatalf("InitRegistry failed: %v", err)
	}
	return cat
}

func openSQLite(t *testing.T, name, schema string) *db.SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".db")
	store, err := db.OpenSQL(context.Background(), name, "sqlite3", path, squirrel.Question)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.Exec(context.Background(), squirrel.Expr(schema)); err != nil {
		t.Fatalf("apply %s schema: %v", name, err)
	}
	return store
}

type fixture struct {
	cat      *model.Catalog
	legacy   *db.SQLStore
	workflow *db.SQLStore
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cat:      loadCatalog(t),
		legacy:   openSQLite(t, "legacy", legacySchema),
		workflow: openSQLite(t, "workflow", workflowSchema),
	}
	engine, err := NewEngine(f.cat, f.legacy, f.workflow, Options{
		Since:     "2023-01-01",
		DoneStage: "Done",
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	f.engine = engine
	return f
}

func rowKeys(rows []db.Row, key string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = db.KeyString(r[key])
	}
	return out
}

func jsonUnmarshal(s string, v any) error { return json.Unmarshal([]byte(s), v) }
