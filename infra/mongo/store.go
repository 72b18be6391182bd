// Package mongo persists simulation state in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
	infralogger "github.com/kilianp07/smartzone/infra/logger"
)

const (
	collZones    = "zones"
	collDrivers  = "drivers"
	collRequests = "ride_requests"
	collSurge    = "surge_history"
)

// Config locates the database.
type Config struct {
	URI      string        `json:"uri"`
	Database string        `json:"database"`
	Timeout  time.Duration `json:"timeout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "smartzone"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Store implements store.Store on four collections. Locations are stored as
// legacy {lon, lat} pairs under 2dsphere indexes.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, pings the primary and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.SetDefaults()
	log := infralogger.New("mongo_store")
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := &Store{client: client, db: client.Database(cfg.Database), log: log}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Infof("Connected to MongoDB database %s", cfg.Database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		collZones: {
			{Keys: bson.D{{Key: "zone_id", Value: 1}}, Options: unique},
		},
		collDrivers: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_zone", Value: 1}}},
		},
		collRequests: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "pickup_location", Value: "2dsphere"}}},
			{Keys: bson.D{{Key: "pickup_zone", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		collSurge: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "zone_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func boxFilter(b geo.BBox) bson.M {
	return bson.M{"$geoWithin": bson.M{"$box": bson.A{
		bson.A{b.MinLon, b.MinLat},
		bson.A{b.MaxLon, b.MaxLat},
	}}}
}

func (s *Store) upsert(ctx context.Context, coll string, filter bson.M, doc any) error {
	_, err := s.db.Collection(coll).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert %s: %w", coll, err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, coll string, filter bson.M, out any) error {
	err := s.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", c.Name(), err)
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode %s: %w", c.Name(), err)
	}
	return out, nil
}

func findOpts(sort bson.D, limit int) *options.FindOptions {
	o := options.Find().SetSort(sort)
	if limit > 0 {
		o.SetLimit(int64(limit))
	}
	return o
}

func (s *Store) SaveZone(ctx context.Context, z model.Zone) error {
	return s.upsert(ctx, collZones, bson.M{"zone_id": z.ID}, z)
}

func (s *Store) GetZone(ctx context.Context, id string) (model.Zone, error) {
	var z model.Zone
	if err := s.findOne(ctx, collZones, bson.M{"zone_id": id}, &z); err != nil {
		return model.Zone{}, fmt.Errorf("zone %s: %w", id, err)
	}
	return z, nil
}

func (s *Store) ListZones(ctx context.Context) ([]model.Zone, error) {
	return findAll[model.Zone](ctx, s.db.Collection(collZones), bson.M{}, findOpts(bson.D{{Key: "zone_id", Value: 1}}, 0))
}

func (s *Store) SaveDriver(ctx context.Context, d model.Driver) error {
	return s.upsert(ctx, collDrivers, bson.M{"id": d.ID}, d)
}

func (s *Store) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	if err := s.findOne(ctx, collDrivers, bson.M{"id": id}, &d); err != nil {
		return model.Driver{}, fmt.Errorf("driver %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) ListDrivers(ctx context.Context, f store.DriverFilter) ([]model.Driver, error) {
	q := bson.M{}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Zone != "" {
		q["current_zone"] = f.Zone
	}
	if f.Within != nil {
		q["location"] = boxFilter(*f.Within)
	}
	return findAll[model.Driver](ctx, s.db.Collection(collDrivers), q, findOpts(bson.D{{Key: "id", Value: 1}}, f.Limit))
}

func (s *Store) SaveRequest(ctx context.Context, r model.RideRequest) error {
	return s.upsert(ctx, collRequests, bson.M{"id": r.ID}, r)
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.RideRequest, error) {
	var r model.RideRequest
	if err := s.findOne(ctx, collRequests, bson.M{"id": id}, &r); err != nil {
		return model.RideRequest{}, fmt.Errorf("request %s: %w", id, err)
	}
	return r, nil
}

func requestQuery(f store.RequestFilter) bson.M {
	q := bson.M{}
	if len(f.Statuses) > 0 {
		q["status"] = bson.M{"$in": f.Statuses}
	}
	if f.PickupZone != "" {
		q["pickup_zone"] = f.PickupZone
	}
	if f.DriverID != "" {
		q["driver_id"] = f.DriverID
	}
	if !f.Since.IsZero() {
		q["created_at"] = bson.M{"$gte": f.Since}
	}
	if f.Within != nil {
		q["pickup_location"] = boxFilter(*f.Within)
	}
	return q
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]model.RideRequest, error) {
	sort := bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: 1}}
	return findAll[model.RideRequest](ctx, s.db.Collection(collRequests), requestQuery(f), findOpts(sort, f.Limit))
}

func (s *Store) CountRequests(ctx context.Context, pickupZone string, since time.Time) (int, error) {
	n, err := s.db.Collection(collRequests).CountDocuments(ctx, requestQuery(store.RequestFilter{PickupZone: pickupZone, Since: since}))
	if err != nil {
		return 0, fmt.Errorf("mongo: count requests: %w", err)
	}
	return int(n), nil
}

func (s *Store) AppendSurgeEvent(ctx context.Context, ev model.SurgeEvent) error {
	if _, err := s.db.Collection(collSurge).InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("mongo: insert surge event: %w", err)
	}
	return nil
}

func (s *Store) ListSurgeEvents(ctx context.Context, f store.SurgeFilter) ([]model.SurgeEvent, error) {
	q := bson.M{}
	if f.ZoneID != "" {
		q["zone_id"] = f.ZoneID
	}
	if !f.Since.IsZero() {
		q["timestamp"] = bson.M{"$gte": f.Since}
	}
	return findAll[model.SurgeEvent](ctx, s.db.Collection(collSurge), q, findOpts(bson.D{{Key: "timestamp", Value: -1}}, f.Limit))
}

// Drop removes the database.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	s.log.Infof("Closing MongoDB connection")
	return s.client.Disconnect(ctx)
}

func init() {
	_ = store.Register("mongo", func(conf map[string]any) (store.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return Open(context.Background(), c)
	})
}
