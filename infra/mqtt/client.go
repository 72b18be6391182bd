// Package mqtt publishes simulation updates to an MQTT broker and listens for
// control commands.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/monitoring"
	infralogger "github.com/kilianp07/smartzone/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	UseTLS      bool   `json:"use_tls"`
	ClientCert  string `json:"client_cert"`
	ClientKey   string `json:"client_key"`
	CABundle    string `json:"ca_bundle"`
	AuthMethod  string `json:"auth_method"`
	// QoS is keyed by message type; "control" applies to the cancel
	// subscription and "default" to types without an entry.
	QoS        map[string]byte `json:"qos"`
	Retain     bool            `json:"retain"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "smartzone"
	}
	if c.ClientID == "" {
		c.ClientID = "smartzone-sim"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Topic returns the topic a message type is published on.
func (c Config) Topic(t broadcast.MessageType) string { return c.TopicPrefix + "/" + string(t) }

// CancelTopic is the control topic carrying request cancellations.
func (c Config) CancelTopic() string { return c.TopicPrefix + "/control/cancel" }

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// CancelHandler is invoked for every cancellation received on the control topic.
type CancelHandler = broadcast.CancelFunc

// PahoSink implements broadcast.Sink using Eclipse Paho.
type PahoSink struct {
	cli      pahoClient
	cfg      Config
	logger   logger.Logger
	backoff  time.Duration
	onCancel CancelHandler
}

// NewPahoSink connects to the MQTT broker. When onCancel is set the sink
// subscribes to the cancel control topic on every (re)connect.
func NewPahoSink(cfg Config, onCancel CancelHandler) (*PahoSink, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := infralogger.New("mqtt_sink")
	ps := &PahoSink{
		cfg:      cfg,
		logger:   log,
		backoff:  time.Duration(cfg.BackoffMS) * time.Millisecond,
		onCancel: onCancel,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if ps.onCancel == nil {
			return
		}
		if token := c.Subscribe(cfg.CancelTopic(), ps.qos("control"), ps.onControl); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	ps.cli = c
	return ps, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoSink) qos(key string) byte {
	if q, ok := p.cfg.QoS[key]; ok {
		return q
	}
	return p.cfg.QoS["default"]
}

func (p *PahoSink) onControl(_ paho.Client, msg paho.Message) {
	var m struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil || m.RequestID == "" {
		p.logger.Errorf("failed to decode cancel command: %v", err)
		return
	}
	if err := p.onCancel(context.Background(), m.RequestID); err != nil {
		p.logger.Warnf("cancel %s: %v", m.RequestID, err)
		return
	}
	p.logger.Infof("cancelled request %s via mqtt", m.RequestID)
}

// Publish sends msg to its type topic, retrying with exponential backoff.
func (p *PahoSink) Publish(ctx context.Context, msg broadcast.Message) error {
	payload, err := broadcast.Encode(msg)
	if err != nil {
		return err
	}
	topic := p.cfg.Topic(msg.Type)
	qos := p.qos(string(msg.Type))

	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, p.cfg.Retain, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("mqtt publish %s: %w", topic, publishErr)
}

// Close gracefully closes the MQTT connection.
func (p *PahoSink) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}

func init() {
	_ = broadcast.Register("mqtt", func(conf map[string]any) (broadcast.Sink, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		onCancel, _ := conf[broadcast.ControlKey].(broadcast.CancelFunc)
		return NewPahoSink(c, onCancel)
	})
}
