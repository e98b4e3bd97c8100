package settings

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/value"
)

// PostgresStore backs the settings boundary with a shared Postgres
// table instead of per-host files, for deployments that externalize
// plugin settings (SPEC_FULL.md domain-stack wiring). It reuses the
// teacher's only SQL driver dependency rather than dropping it, since
// this spec has no other SQL-shaped component.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS plugin_settings (
	plugin_id  BIGINT NOT NULL,
	name       TEXT NOT NULL,
	kind       SMALLINT NOT NULL,
	int_val    BIGINT NOT NULL DEFAULT 0,
	float_val  DOUBLE PRECISION NOT NULL DEFAULT 0,
	bool_val   BOOLEAN NOT NULL DEFAULT FALSE,
	str_val    TEXT NOT NULL DEFAULT '',
	transient  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (plugin_id, name)
)`

// NewPostgresStore opens a connection pool against dsn and ensures
// the settings table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres settings store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres settings store: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("creating plugin_settings table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Get(plugin hashkey.PluginID, name string) (Property, bool, error) {
	row := p.db.QueryRow(
		`SELECT kind, int_val, float_val, bool_val, str_val, transient FROM plugin_settings WHERE plugin_id=$1 AND name=$2`,
		int64(plugin), name,
	)
	var kind int
	var intVal int64
	var floatVal float64
	var boolVal bool
	var strVal string
	var transient bool
	if err := row.Scan(&kind, &intVal, &floatVal, &boolVal, &strVal, &transient); err != nil {
		if err == sql.ErrNoRows {
			return Property{}, false, nil
		}
		return Property{}, false, fmt.Errorf("querying settings property: %w", err)
	}
	return Property{
		Name:      name,
		Kind:      value.Kind(kind),
		Val:       rowToValue(value.Kind(kind), intVal, floatVal, boolVal, strVal),
		Transient: transient,
	}, true, nil
}

func (p *PostgresStore) Create(plugin hashkey.PluginID, prop Property) error {
	intVal, floatVal, boolVal, strVal := valueToRow(prop.Val)
	_, err := p.db.Exec(
		`INSERT INTO plugin_settings (plugin_id, name, kind, int_val, float_val, bool_val, str_val, transient)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		int64(plugin), prop.Name, int(prop.Kind), intVal, floatVal, boolVal, strVal, prop.Transient,
	)
	if err != nil {
		return hosterr.AlreadyExistsf("settings property %q: %v", prop.Name, err)
	}
	return nil
}

func (p *PostgresStore) Change(plugin hashkey.PluginID, name string, v value.Value) error {
	existing, ok, err := p.Get(plugin, name)
	if err != nil {
		return err
	}
	if !ok {
		return hosterr.DoesNotExistf("settings property %q not found", name)
	}
	if !existing.Val.SameKind(v) {
		return hosterr.TypeMismatchf("settings property %q kind mismatch", name)
	}
	intVal, floatVal, boolVal, strVal := valueToRow(v)
	_, err = p.db.Exec(
		`UPDATE plugin_settings SET int_val=$1, float_val=$2, bool_val=$3, str_val=$4 WHERE plugin_id=$5 AND name=$6`,
		intVal, floatVal, boolVal, strVal, int64(plugin), name,
	)
	return err
}

func (p *PostgresStore) Delete(plugin hashkey.PluginID, name string) error {
	_, err := p.db.Exec(`DELETE FROM plugin_settings WHERE plugin_id=$1 AND name=$2`, int64(plugin), name)
	return err
}

func (p *PostgresStore) IsTransient(plugin hashkey.PluginID, name string) (bool, error) {
	prop, ok, err := p.Get(plugin, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, hosterr.DoesNotExistf("settings property %q not found", name)
	}
	return prop.Transient, nil
}

func (p *PostgresStore) SetTransient(plugin hashkey.PluginID, name string, transient bool) error {
	res, err := p.db.Exec(`UPDATE plugin_settings SET transient=$1 WHERE plugin_id=$2 AND name=$3`, transient, int64(plugin), name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hosterr.DoesNotExistf("settings property %q not found", name)
	}
	return nil
}

// Reload is a no-op for PostgresStore: every read already goes
// straight to the database, so there is no in-memory cache to
// invalidate. Present to satisfy the Store interface.
func (p *PostgresStore) Reload(hashkey.PluginID) error { return nil }

// Save is a no-op for PostgresStore for the same reason: writes are
// already durable as they happen.
func (p *PostgresStore) Save(hashkey.PluginID) error { return nil }

func (p *PostgresStore) PluginIDs() []hashkey.PluginID {
	rows, err := p.db.Query(`SELECT DISTINCT plugin_id FROM plugin_settings`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []hashkey.PluginID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, hashkey.PluginID(uint64(id)))
		}
	}
	return ids
}

func rowToValue(kind value.Kind, intVal int64, floatVal float64, boolVal bool, strVal string) value.Value {
	switch kind {
	case value.KindInt:
		return value.Int(intVal)
	case value.KindFloat:
		return value.Float(floatVal)
	case value.KindBool:
		return value.Bool(boolVal)
	case value.KindString:
		return value.Str(strVal)
	default:
		return value.None()
	}
}

func valueToRow(v value.Value) (intVal int64, floatVal float64, boolVal bool, strVal string) {
	switch v.Kind() {
	case value.KindInt:
		intVal, _ = v.Int()
	case value.KindFloat:
		floatVal, _ = v.Float()
	case value.KindBool:
		boolVal, _ = v.Bool()
	case value.KindString:
		strVal, _ = v.String()
	}
	return
}
