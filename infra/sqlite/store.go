// Package sqlite persists simulation state in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
)

// Config locates the database file.
type Config struct {
	Path string `json:"path"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "smartzone.db"
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS zones (
    zone_id TEXT PRIMARY KEY,
    doc     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS drivers (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    current_zone TEXT NOT NULL,
    lon          REAL NOT NULL,
    lat          REAL NOT NULL,
    doc          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ride_requests (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    pickup_zone TEXT NOT NULL,
    driver_id   TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    lon         REAL NOT NULL,
    lat         REAL NOT NULL,
    doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ride_requests_zone_time ON ride_requests (pickup_zone, created_at);
CREATE TABLE IF NOT EXISTS surge_history (
    seq     INTEGER PRIMARY KEY AUTOINCREMENT,
    zone_id TEXT NOT NULL,
    ts      INTEGER NOT NULL,
    doc     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS surge_history_zone_time ON surge_history (zone_id, ts);
`

// Store implements store.Store. Records are kept as JSON documents next to
// the columns used for filtering and ordering.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database and ensures the schema.
func Open(cfg Config) (*Store, error) {
	cfg.SetDefaults()
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Timestamps are stored as microseconds so the zero time still fits.
func stamp(t time.Time) int64 { return t.UnixMicro() }

func (s *Store) SaveZone(ctx context.Context, z model.Zone) error {
	doc, err := json.Marshal(z)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO zones (zone_id, doc) VALUES (?, ?)
        ON CONFLICT(zone_id) DO UPDATE SET doc = excluded.doc`, z.ID, string(doc))
	return err
}

func (s *Store) GetZone(ctx context.Context, id string) (model.Zone, error) {
	var z model.Zone
	if err := s.getDoc(ctx, `SELECT doc FROM zones WHERE zone_id = ?`, id, &z); err != nil {
		return model.Zone{}, fmt.Errorf("zone %s: %w", id, err)
	}
	return z, nil
}

func (s *Store) ListZones(ctx context.Context) ([]model.Zone, error) {
	return queryDocs[model.Zone](ctx, s.db, `SELECT doc FROM zones ORDER BY zone_id`)
}

func (s *Store) SaveDriver(ctx context.Context, d model.Driver) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO drivers (id, status, current_zone, lon, lat, doc)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            current_zone = excluded.current_zone,
            lon = excluded.lon,
            lat = excluded.lat,
            doc = excluded.doc`,
		d.ID, string(d.Status), d.CurrentZone, d.Location.Lon, d.Location.Lat, string(doc))
	return err
}

func (s *Store) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	if err := s.getDoc(ctx, `SELECT doc FROM drivers WHERE id = ?`, id, &d); err != nil {
		return model.Driver{}, fmt.Errorf("driver %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) ListDrivers(ctx context.Context, f store.DriverFilter) ([]model.Driver, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Zone != "" {
		w.add("current_zone = ?", f.Zone)
	}
	if f.Within != nil {
		w.box(*f.Within)
	}
	q := `SELECT doc FROM drivers` + w.String() + ` ORDER BY id` + limitClause(f.Limit)
	return queryDocs[model.Driver](ctx, s.db, q, w.args...)
}

func (s *Store) SaveRequest(ctx context.Context, r model.RideRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ride_requests
        (id, status, pickup_zone, driver_id, created_at, lon, lat, doc)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            pickup_zone = excluded.pickup_zone,
            driver_id = excluded.driver_id,
            created_at = excluded.created_at,
            lon = excluded.lon,
            lat = excluded.lat,
            doc = excluded.doc`,
		r.ID, string(r.Status), r.PickupZone, r.DriverID, stamp(r.CreatedAt), r.Pickup.Lon, r.Pickup.Lat, string(doc))
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.RideRequest, error) {
	var r model.RideRequest
	if err := s.getDoc(ctx, `SELECT doc FROM ride_requests WHERE id = ?`, id, &r); err != nil {
		return model.RideRequest{}, fmt.Errorf("request %s: %w", id, err)
	}
	return r, nil
}

func requestWhere(f store.RequestFilter) where {
	var w where
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			w.args = append(w.args, string(st))
		}
		w.clauses = append(w.clauses, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.PickupZone != "" {
		w.add("pickup_zone = ?", f.PickupZone)
	}
	if f.DriverID != "" {
		w.add("driver_id = ?", f.DriverID)
	}
	if !f.Since.IsZero() {
		w.add("created_at >= ?", stamp(f.Since))
	}
	if f.Within != nil {
		w.box(*f.Within)
	}
	return w
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]model.RideRequest, error) {
	w := requestWhere(f)
	q := `SELECT doc FROM ride_requests` + w.String() + ` ORDER BY created_at DESC, id` + limitClause(f.Limit)
	return queryDocs[model.RideRequest](ctx, s.db, q, w.args...)
}

func (s *Store) CountRequests(ctx context.Context, pickupZone string, since time.Time) (int, error) {
	w := requestWhere(store.RequestFilter{PickupZone: pickupZone, Since: since})
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ride_requests`+w.String(), w.args...).Scan(&n)
	return n, err
}

func (s *Store) AppendSurgeEvent(ctx context.Context, ev model.SurgeEvent) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO surge_history (zone_id, ts, doc) VALUES (?, ?, ?)`,
		ev.ZoneID, stamp(ev.Timestamp), string(doc))
	return err
}

func (s *Store) ListSurgeEvents(ctx context.Context, f store.SurgeFilter) ([]model.SurgeEvent, error) {
	var w where
	if f.ZoneID != "" {
		w.add("zone_id = ?", f.ZoneID)
	}
	if !f.Since.IsZero() {
		w.add("ts >= ?", stamp(f.Since))
	}
	q := `SELECT doc FROM surge_history` + w.String() + ` ORDER BY ts DESC, seq` + limitClause(f.Limit)
	return queryDocs[model.SurgeEvent](ctx, s.db, q, w.args...)
}

// Close closes the underlying database.
func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) getDoc(ctx context.Context, query, id string, out any) error {
	var doc string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), out)
}

func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []T{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) box(b geo.BBox) {
	w.clauses = append(w.clauses, "lon BETWEEN ? AND ?", "lat BETWEEN ? AND ?")
	w.args = append(w.args, b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
}

func (w where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

func init() {
	_ = store.Register("sqlite", func(conf map[string]any) (store.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return Open(c)
	})
}
