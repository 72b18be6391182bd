package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/smartzone/core/logger"
	coremetrics "github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	infralogger "github.com/kilianp07/smartzone/infra/logger"
)

const writeTimeout = 5 * time.Second

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes simulation events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: writeTimeout}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(points ...*write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordRideTransition writes one ride_transition point.
func (s *InfluxSink) RecordRideTransition(ev coremetrics.RideTransitionEvent) error {
	p := write.NewPointWithMeasurement("ride_transition").
		AddTag("request_id", ev.RequestID).
		AddTag("zone", ev.Zone).
		AddTag("to", string(ev.To))
	if ev.From != "" {
		p = p.AddTag("from", string(ev.From))
	}
	if ev.DriverID != "" {
		p = p.AddTag("driver_id", ev.DriverID)
	}
	p = p.AddField("fare", round3(ev.Fare)).SetTime(ev.Time)
	return s.write(p)
}

// RecordSurgeEvent writes one surge_event point.
func (s *InfluxSink) RecordSurgeEvent(ev model.SurgeEvent) error {
	p := write.NewPointWithMeasurement("surge_event").
		AddTag("zone", ev.ZoneID).
		AddTag("active", strconv.FormatBool(ev.Active)).
		AddField("demand_level", ev.DemandLevel).
		AddField("multiplier", round3(ev.Multiplier)).
		AddField("ratio", round3(ev.Ratio)).
		SetTime(ev.Timestamp)
	return s.write(p)
}

// RecordGeofenceAlert writes one geofence_alert point.
func (s *InfluxSink) RecordGeofenceAlert(a model.GeofenceAlert) error {
	p := write.NewPointWithMeasurement("geofence_alert").
		AddTag("zone", a.ZoneID).
		AddTag("driver_id", a.DriverID).
		AddTag("type", string(a.Type)).
		AddField("count", 1).
		SetTime(a.Timestamp)
	return s.write(p)
}

// RecordFleetSnapshot writes one fleet_snapshot point.
func (s *InfluxSink) RecordFleetSnapshot(snap coremetrics.FleetSnapshot) error {
	p := write.NewPointWithMeasurement("fleet_snapshot").
		AddField("available", snap.Available).
		AddField("busy", snap.Busy).
		AddField("offline", snap.Offline).
		AddField("pending", snap.Pending).
		AddField("active", snap.Active).
		SetTime(snap.Time)
	return s.write(p)
}

// RecordForecast writes one demand_forecast point per zone.
func (s *InfluxSink) RecordForecast(preds []model.DemandPrediction) error {
	if len(preds) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(preds))
	for _, pr := range preds {
		points = append(points, write.NewPointWithMeasurement("demand_forecast").
			AddTag("zone", pr.ZoneID).
			AddField("predicted", round3(pr.PredictedDemand)).
			AddField("confidence", round3(pr.Confidence)).
			SetTime(pr.Timestamp))
	}
	return s.write(points...)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
