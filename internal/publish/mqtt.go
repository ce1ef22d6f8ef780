// Package publish forwards link observations to an MQTT broker.
package publish

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/anytx/dsmlink/internal/link"
	"github.com/anytx/dsmlink/internal/telemetry"
)

const (
	DefaultPrefix  = "dsmlink"
	DefaultTimeout = 5 * time.Second
	defaultPort    = "1883"
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher writes telemetry and faults as JSON below a topic prefix.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// WithLogger sets the logger for the publisher
func WithLogger(logger *slog.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithQoS sets the MQTT quality of service for every message.
func WithQoS(qos byte) func(*Publisher) {
	return func(p *Publisher) {
		p.qos = qos
	}
}

// WithTimeout bounds how long a publish waits for the broker.
func WithTimeout(d time.Duration) func(*Publisher) {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// New wraps an already connected client.
func New(client Client, prefix string, options ...func(*Publisher)) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	p := &Publisher{
		client:  client,
		prefix:  prefix,
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Dial connects to the broker named by rawURL and returns a publisher. The
// URL has the form mqtt://[user:pass@]host[:port][/prefix]; mqtts, ssl, ws
// and wss schemes are also accepted.
func Dial(rawURL string, options ...func(*Publisher)) (*Publisher, error) {
	opts, prefix, err := clientOptions(rawURL)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultTimeout) {
		return nil, fmt.Errorf("connecting to %s: timeout", opts.Servers[0].Host)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.Servers[0].Host, err)
	}

	return New(client, prefix, options...), nil
}

func clientOptions(rawURL string) (*mqtt.ClientOptions, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing broker URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, "", fmt.Errorf("broker URL %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	var (
		scheme  string
		path    string
		tlsConf *tls.Config
	)
	switch u.Scheme {
	case "mqtt", "tcp", "":
		scheme = "tcp"
	case "mqtts", "ssl":
		scheme = "ssl"
		tlsConf = &tls.Config{ClientAuth: tls.NoClientCert}
	case "ws":
		scheme, path = "ws", "/mqtt"
	case "wss":
		scheme, path = "wss", "/mqtt"
		tlsConf = &tls.Config{ClientAuth: tls.NoClientCert}
	default:
		return nil, "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%s%s", scheme, u.Hostname(), port, path))
	opts.SetClientID("dsmlink-" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(DefaultTimeout)
	if tlsConf != nil {
		opts.SetTLSConfig(tlsConf)
	}
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			opts.SetPassword(pass)
		}
	}

	return opts, strings.Trim(u.Path, "/"), nil
}

// Topic returns the full topic for a message kind.
func (p *Publisher) Topic(kind string) string {
	return p.prefix + "/" + kind
}

func (p *Publisher) publish(kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", kind, err)
	}

	topic := p.Topic(kind)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// PublishTelemetry sends a decoded telemetry frame to <prefix>/telemetry.
func (p *Publisher) PublishTelemetry(t *telemetry.Telemetry) error {
	if t == nil {
		return errors.New("telemetry is required")
	}
	return p.publish("telemetry", t)
}

type faultMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Error     string    `json:"error"`
}

// PublishFault sends a link fault to <prefix>/fault.
func (p *Publisher) PublishFault(f link.Fault) error {
	msg := faultMessage{
		Timestamp: f.Time.UTC(),
		Phase:     f.Phase.String(),
	}
	if f.Err != nil {
		msg.Error = f.Err.Error()
	}
	return p.publish("fault", msg)
}

type statsMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Steps     uint64    `json:"steps"`
	Hops      uint64    `json:"hops"`
	Telemetry uint64    `json:"telemetry"`
	Faults    uint64    `json:"faults"`
	Dropped   uint64    `json:"dropped"`
	Overruns  uint64    `json:"overruns"`
}

// PublishStats sends a runner counter snapshot to <prefix>/stats.
func (p *Publisher) PublishStats(ts time.Time, s link.Stats) error {
	return p.publish("stats", statsMessage{
		Timestamp: ts.UTC(),
		Steps:     s.Steps,
		Hops:      s.Hops,
		Telemetry: s.Telemetry,
		Faults:    s.Faults,
		Dropped:   s.Dropped,
		Overruns:  s.Overruns,
	})
}

// Close disconnects from the broker after pending work drains.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
