//go:build integration

package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/smartzone/app"
	"github.com/kilianp07/smartzone/config"
	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/factory"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// junitReport is a minimal JUnit XML report so CI can display the results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return cont, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// subscribe collects driver update payloads published by the simulation.
func subscribe(t *testing.T, broker string) <-chan broadcast.Message {
	t.Helper()
	out := make(chan broadcast.Message, 64)
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("e2e-observer")
	cli := paho.NewClient(opts)
	tok := cli.Connect()
	require.True(t, tok.WaitTimeout(10*time.Second), "mqtt connect timeout")
	require.NoError(t, tok.Error())
	t.Cleanup(func() { cli.Disconnect(100) })

	topic := "smartzone/" + string(broadcast.DriverUpdates)
	sub := cli.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		var msg broadcast.Message
		if json.Unmarshal(m.Payload(), &msg) == nil {
			select {
			case out <- msg:
			default:
			}
		}
	})
	require.True(t, sub.WaitTimeout(10*time.Second), "mqtt subscribe timeout")
	require.NoError(t, sub.Error())
	return out
}

func e2eConfig(t *testing.T, influxURL, broker string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Grid.RadiusKm = 1
	cfg.Simulation.Drivers = 5
	cfg.Simulation.TimeAcceleration = 10
	cfg.Simulation.Seed = 7
	cfg.Store = factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{
		"path": filepath.Join(t.TempDir(), "e2e.db"),
	}}
	cfg.Broadcast = []factory.ModuleConfig{{Type: "mqtt", Conf: map[string]any{
		"broker":    broker,
		"client_id": "e2e-sim",
	}}}
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "influx", Conf: map[string]any{
		"url":    influxURL,
		"token":  influxToken,
		"org":    influxOrg,
		"bucket": influxBucket,
	}}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// Test_E2E_SimulationPipeline boots the full service against InfluxDB and
// Mosquitto and checks that driver updates reach the broker and fleet
// snapshots land in InfluxDB.
func Test_E2E_SimulationPipeline(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	influxCont, influxURL := startInflux(ctx, t)
	defer influxCont.Terminate(ctx) //nolint:errcheck
	mqttCont, broker := startMosquitto(ctx, t)
	defer mqttCont.Terminate(ctx) //nolint:errcheck
	t.Logf("InfluxDB at %s, Mosquitto at %s", influxURL, broker)

	cli := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer cli.Close()
	require.NoError(t, cli.SetupBucket(ctx))

	updates := subscribe(t, broker)

	svc, err := app.New(e2eConfig(t, influxURL, broker))
	require.NoError(t, err)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx, nil) }()

	select {
	case msg := <-updates:
		assert.Equal(t, broadcast.DriverUpdates, msg.Type)
	case <-time.After(30 * time.Second):
		t.Fatal("no driver update received over mqtt")
	}

	require.Eventually(t, func() bool {
		n, err := cli.CountMeasurement(ctx, "fleet_snapshot", "5m")
		return err == nil && n > 0
	}, 30*time.Second, time.Second, "no fleet_snapshot points in influx")

	stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("service did not stop")
	}
	require.NoError(t, svc.Close())

	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{
		Name: "Test_E2E_SimulationPipeline",
		Time: time.Since(start).Seconds(),
	}}}
	if err := writeJUnit(filepath.Join(t.TempDir(), "e2e.xml"), rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}
