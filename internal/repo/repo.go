package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/cswank/motordrive/internal/control"
	"github.com/parsyl/sqrl"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var (
	schema = []string{
		`CREATE TABLE IF NOT EXISTS configs (
			axis   TEXT PRIMARY KEY,
			config TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS controllers (
			axis   TEXT PRIMARY KEY,
			config TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			axis  TEXT NOT NULL,
			at    INTEGER NOT NULL,
			kind  TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_axis ON events (axis, id)`,
	}

	columns = []string{
		"axis",
		"at",
		"kind",
		"state",
		"error",
	}

	db *sql.DB

	ErrClosed = errors.New("repo is not open")
)

type (
	Events struct {
		Events []axis.Event `json:"events"`
		Total  int          `json:"total"`
	}

	QueryOption func(*sqrl.SelectBuilder)
)

// Init opens (or creates) the database at pth. ":memory:" is fine for
// tests since a single connection is kept open.
func Init(pth string) (err error) {
	if db != nil {
		db.Close()
	}

	db, err = sql.Open("sqlite", pth)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", pth)
	}

	db.SetMaxOpenConns(1)

	for _, s := range schema {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrap(err, "unable to create schema")
		}
	}

	return nil
}

func Close() error {
	if db == nil {
		return nil
	}

	err := db.Close()
	db = nil
	return err
}

// GetConfig returns the stored config for name, or def if none was saved.
func GetConfig(name string, def axis.Config) (axis.Config, error) {
	cfg := def
	if err := getJSON("configs", name, &cfg); err != nil {
		return def, err
	}
	return cfg, nil
}

func SaveConfig(name string, cfg axis.Config) error {
	return saveJSON("configs", name, cfg)
}

// GetControlConfig returns the stored controller config for name, or def if
// none was saved.
func GetControlConfig(name string, def control.Config) (control.Config, error) {
	cfg := def
	if err := getJSON("controllers", name, &cfg); err != nil {
		return def, err
	}
	return cfg, nil
}

func SaveControlConfig(name string, cfg control.Config) error {
	return saveJSON("controllers", name, cfg)
}

// getJSON decodes the row for name over v. A missing row leaves v alone.
func getJSON(table, name string, v interface{}) error {
	if db == nil {
		return ErrClosed
	}

	q, args, _ := sqrl.Select("config").
		From(table).
		Where("axis = ?", name).
		ToSql()

	var s string
	err := db.QueryRow(q, args...).Scan(&s)
	if err == sql.ErrNoRows {
		return nil
	}

	if err != nil {
		return err
	}

	return errors.Wrapf(json.Unmarshal([]byte(s), v), "invalid %s row for axis %s", table, name)
}

func saveJSON(table, name string, v interface{}) error {
	if db == nil {
		return ErrClosed
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	q, args, _ := sqrl.Insert(table).
		Columns("axis", "config").
		Values(name, string(b)).
		Suffix("ON CONFLICT(axis) DO UPDATE SET config = excluded.config").
		ToSql()

	_, err = db.Exec(q, args...)
	return err
}

func AddEvent(e axis.Event) error {
	if db == nil {
		return ErrClosed
	}

	q, args, _ := sqrl.Insert("events").
		Columns(columns...).
		Values(e.Axis, e.At.UnixNano(), string(e.Kind), e.State.String(), e.Error.String()).
		ToSql()

	_, err := db.Exec(q, args...)
	return err
}

// GetEvents returns the events of one axis, newest first.
func GetEvents(name string, page QueryOption, opts ...QueryOption) (evts Events, err error) {
	if db == nil {
		return evts, ErrClosed
	}

	cte := sqrl.Select(append([]string{"id"}, columns...)...).
		From("events").
		Where("axis = ?", name)

	for _, o := range opts {
		o(cte)
	}

	q, args, _ := cte.ToSql()
	count := fmt.Sprintf("WITH evts AS (%s) SELECT count(*) FROM evts", q)

	if err := db.QueryRow(count, args...).Scan(&evts.Total); err != nil {
		return evts, err
	}

	sel := sqrl.Select(columns...).
		From("evts").
		Prefix(fmt.Sprintf("WITH evts AS (%s)", q), args...).
		OrderBy("id DESC")

	if page != nil {
		page(sel)
	}

	q, args, _ = sel.ToSql()
	rows, err := db.Query(q, args...)
	if err != nil {
		return evts, err
	}
	defer rows.Close()

	evts.Events = []axis.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return evts, err
		}

		evts.Events = append(evts.Events, e)
	}

	return evts, rows.Err()
}

func scanEvent(rows *sql.Rows) (e axis.Event, err error) {
	var (
		at           int64
		kind, st, er string
	)

	if err := rows.Scan(&e.Axis, &at, &kind, &st, &er); err != nil {
		return e, err
	}

	e.At = time.Unix(0, at).UTC()
	e.Kind = axis.EventKind(kind)
	if err := e.State.UnmarshalText([]byte(st)); err != nil {
		return e, err
	}

	return e, e.Error.UnmarshalText([]byte(er))
}

func Errors(sel *sqrl.SelectBuilder) {
	sel.Where("kind = ?", string(axis.EventError))
}

func Since(t time.Time) QueryOption {
	return func(sel *sqrl.SelectBuilder) {
		sel.Where("at >= ?", t.UnixNano())
	}
}

// Page selects page p of size ps. Without a positive size or with a negative
// page nothing is limited.
func Page(p, ps int) QueryOption {
	return func(sel *sqrl.SelectBuilder) {
		if ps > 0 && p >= 0 {
			sel.Limit(uint64(ps)).Offset(uint64(p * ps))
		}
	}
}
