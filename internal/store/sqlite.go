package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"

	_ "modernc.org/sqlite"
)

// sqlitePersister stores a workflow as rows: one per task, element,
// parameter and template component. Its revision is a random token rewritten
// on every write.
type sqlitePersister struct {
	db   *sql.DB
	path string
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

func createSQLite(path string, doc *document) (*sqlitePersister, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	p := &sqlitePersister{db: db, path: path}
	if _, err := p.writeDocument(doc, &dirtySet{all: true}, ""); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func openSQLite(path string) (*sqlitePersister, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &sqlitePersister{db: db, path: path}, nil
}

func (p *sqlitePersister) readDocument() (*document, error) {
	ctx := context.Background()
	doc := &document{Components: map[component.Kind][]template.ComponentEntry{}}

	meta, err := p.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	doc.ID = meta["id"]
	doc.CreatedAt = meta["created_at"]
	doc.TemplateName = meta["template_name"]
	doc.ReplacedFile = meta["replaced_file"]
	if doc.NumAddedTasks, err = strconv.Atoi(meta["num_added_tasks"]); err != nil {
		return nil, fmt.Errorf("meta num_added_tasks: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT insert_id, template, element_sets FROM tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	byID := map[int]*TaskRecord{}
	for rows.Next() {
		var t TaskRecord
		var tmpl, sets string
		if err := rows.Scan(&t.InsertID, &tmpl, &sets); err != nil {
			rows.Close()
			return nil, err
		}
		t.Template = json.RawMessage(tmpl)
		if err := json.Unmarshal([]byte(sets), &t.ElementSets); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal element sets of task %d: %w", t.InsertID, err)
		}
		t.Elements = []*ElementRecord{}
		doc.Tasks = append(doc.Tasks, &t)
		byID[t.InsertID] = &t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT task_insert_id, data FROM elements ORDER BY task_insert_id, idx`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return nil, err
		}
		var e ElementRecord
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal element of task %d: %w", id, err)
		}
		t, ok := byID[id]
		if !ok {
			rows.Close()
			return nil, fmt.Errorf("element of unknown task %d", id)
		}
		t.Elements = append(t.Elements, &e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT id, is_set, data, source FROM parameters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, isSet int
		var data sql.NullString
		var src string
		if err := rows.Scan(&id, &isSet, &data, &src); err != nil {
			rows.Close()
			return nil, err
		}
		if id != len(doc.Parameters) {
			rows.Close()
			return nil, fmt.Errorf("parameter handles not contiguous at %d", id)
		}
		e := &param.Entry{Set: isSet != 0}
		if data.Valid {
			e.Value = json.RawMessage(data.String)
		}
		if err := json.Unmarshal([]byte(src), &e.Source); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal source of parameter %d: %w", id, err)
		}
		doc.Parameters = append(doc.Parameters, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT kind, hash, data FROM components ORDER BY kind, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, hash, data string
		if err := rows.Scan(&kind, &hash, &data); err != nil {
			return nil, err
		}
		k := component.Kind(kind)
		doc.Components[k] = append(doc.Components[k], template.ComponentEntry{Hash: hash, Data: json.RawMessage(data)})
	}
	return doc, rows.Err()
}

func (p *sqlitePersister) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (p *sqlitePersister) writeDocument(doc *document, dirty *dirtySet, expect string) (string, error) {
	ctx := context.Background()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	rev, err := writeMetaTx(ctx, tx, doc, expect)
	if err != nil {
		return "", err
	}

	for pos, t := range doc.Tasks {
		if !dirty.all && !dirty.tasks[t.InsertID] {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET position = ? WHERE insert_id = ?`, pos, t.InsertID); err != nil {
				return "", err
			}
			continue
		}
		sets, err := json.Marshal(t.ElementSets)
		if err != nil {
			return "", fmt.Errorf("marshal element sets: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (insert_id, position, template, element_sets) VALUES (?, ?, ?, ?)
			 ON CONFLICT(insert_id) DO UPDATE SET position = excluded.position,
			 template = excluded.template, element_sets = excluded.element_sets`,
			t.InsertID, pos, string(t.Template), string(sets))
		if err != nil {
			return "", fmt.Errorf("write task %d: %w", t.InsertID, err)
		}
	}

	for _, t := range doc.Tasks {
		for _, e := range t.Elements {
			if !dirty.all && !dirty.elements[param.ElementKey{TaskInsertID: t.InsertID, ElementIdx: e.Index}] {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return "", fmt.Errorf("marshal element: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO elements (task_insert_id, idx, global_idx, data) VALUES (?, ?, ?, ?)
				 ON CONFLICT(task_insert_id, idx) DO UPDATE SET global_idx = excluded.global_idx, data = excluded.data`,
				t.InsertID, e.Index, e.GlobalIdx, string(data))
			if err != nil {
				return "", fmt.Errorf("write element (%d, %d): %w", t.InsertID, e.Index, err)
			}
		}
	}

	for id, e := range doc.Parameters {
		if !dirty.all && !dirty.params[id] {
			continue
		}
		src, err := json.Marshal(e.Source)
		if err != nil {
			return "", fmt.Errorf("marshal parameter source: %w", err)
		}
		var data sql.NullString
		if e.Set {
			data = sql.NullString{String: string(e.Value), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO parameters (id, is_set, data, source, source_type) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET is_set = excluded.is_set, data = excluded.data,
			 source = excluded.source, source_type = excluded.source_type`,
			id, boolInt(e.Set), data, string(src), string(e.Source.Kind))
		if err != nil {
			return "", fmt.Errorf("write parameter %d: %w", id, err)
		}
	}

	if dirty.all || dirty.components {
		for kind, entries := range doc.Components {
			for pos, c := range entries {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO components (kind, position, hash, data) VALUES (?, ?, ?, ?)
					 ON CONFLICT(kind, hash) DO UPDATE SET position = excluded.position`,
					string(kind), pos, c.Hash, string(c.Data))
				if err != nil {
					return "", fmt.Errorf("write %s component: %w", kind, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return rev, nil
}

func (p *sqlitePersister) writeMeta(doc *document, expect string) (string, error) {
	ctx := context.Background()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	rev, err := writeMetaTx(ctx, tx, doc, expect)
	if err != nil {
		return "", err
	}
	return rev, tx.Commit()
}

// writeMetaTx writes the document metadata with a fresh revision. The stored
// revision and task counter are read inside tx: a revision other than expect
// means another handle committed, and the counter never moves backwards.
func writeMetaTx(ctx context.Context, tx *sql.Tx, doc *document, expect string) (string, error) {
	var current, counter string
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'revision'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("read revision: %w", err)
	}
	if current != expect {
		return "", fmt.Errorf("%w: revision %q, want %q", ErrModifiedOnDisk, current, expect)
	}
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'num_added_tasks'`).Scan(&counter)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("read task counter: %w", err)
	}
	if n, _ := strconv.Atoi(counter); n > doc.NumAddedTasks {
		return "", fmt.Errorf("%w: task counter %d, have %d", ErrModifiedOnDisk, n, doc.NumAddedTasks)
	}

	rev := uuid.NewString()
	values := map[string]string{
		"id":              doc.ID,
		"created_at":      doc.CreatedAt,
		"template_name":   doc.TemplateName,
		"num_added_tasks": strconv.Itoa(doc.NumAddedTasks),
		"replaced_file":   doc.ReplacedFile,
		"revision":        rev,
	}
	for k, v := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			return "", fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return rev, nil
}

func (p *sqlitePersister) revision() (string, error) {
	var rev string
	err := p.db.QueryRow(`SELECT value FROM meta WHERE key = 'revision'`).Scan(&rev)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return rev, err
}

func (p *sqlitePersister) copyTo(path string) error {
	_, err := p.db.Exec(`VACUUM INTO '` + strings.ReplaceAll(path, "'", "''") + `'`)
	return err
}

func (p *sqlitePersister) close() error { return p.db.Close() }

func (p *sqlitePersister) files() []string { return sidecars(p.path, FormatSQLite) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
