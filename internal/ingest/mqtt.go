package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relvacode/iso8601"

	"github.com/i474232898/temperature-monitoring/internal/metrics"
	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

// Ingester saves validated readings; monitoring.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, readings []monitoring.Reading) (int, error)
}

// Config holds the broker settings.
type Config struct {
	BrokerURL string
	ClientID  string
	Topic     string // e.g. sensors/+/readings; the + segment is the sensor id
	QoS       byte
}

// Subscriber receives live readings pushed by the sensors over MQTT.
type Subscriber struct {
	cfg      Config
	client   mqtt.Client
	ingester Ingester
	metrics  *metrics.Recorder
	timeout  time.Duration
}

// NewSubscriber prepares a subscriber. Call Start to connect.
func NewSubscriber(cfg Config, ingester Ingester, rec *metrics.Recorder) *Subscriber {
	s := &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		metrics:  rec,
		timeout:  10 * time.Second,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	// Subscribe on every (re)connect so a broker restart does not lose the subscription.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			log.Printf("ERROR: %v", err)
			return
		}
		log.Printf("INFO: ingest: subscribed to %s", cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("ingest: connection lost: %v", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker.
func (s *Subscriber) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("ingest: connect to %s timed out", s.cfg.BrokerURL)
	}
	return token.Error()
}

// subscribe waits for the broker to acknowledge the subscription.
func (s *Subscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("ingest: subscribe %s timed out after %s", s.cfg.Topic, s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Stop disconnects, giving in-flight handlers a moment to finish.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	readings, dropped, err := decodePayload(msg.Topic(), s.cfg.Topic, msg.Payload())
	if err != nil {
		log.Printf("ingest: dropping message on %s: %v", msg.Topic(), err)
		s.metrics.Ingested("mqtt", 0, 1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	saved, err := s.ingester.Ingest(ctx, readings)
	if err != nil {
		log.Printf("ERROR: ingest: saving %d readings from %s: %v", len(readings), msg.Topic(), err)
		s.metrics.Ingested("mqtt", 0, len(readings)+dropped)
		return
	}
	s.metrics.Ingested("mqtt", saved, len(readings)-saved+dropped)
}

// wireReading accepts observedAt as an ISO 8601 string or unix milliseconds.
type wireReading struct {
	SensorID    string          `json:"sensorId"`
	ObservedAt  json.RawMessage `json:"observedAt"`
	Temperature *float64        `json:"temperature"`
}

// decodePayload parses a single reading object or an array of them. Entries
// that cannot be parsed are counted in dropped.
func decodePayload(topic, filter string, payload []byte) ([]monitoring.Reading, int, error) {
	payload = bytes.TrimSpace(payload)
	var wires []wireReading
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &wires); err != nil {
			return nil, 0, err
		}
	} else {
		var w wireReading
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, 0, err
		}
		wires = []wireReading{w}
	}

	topicSensor := SensorIDFromTopic(topic, filter)
	readings := make([]monitoring.Reading, 0, len(wires))
	dropped := 0
	for _, w := range wires {
		ts, err := parseObservedAt(w.ObservedAt)
		if err != nil {
			log.Printf("DEBUG: ingest: %s: %v", topic, err)
			dropped++
			continue
		}
		id := w.SensorID
		if id == "" {
			id = topicSensor
		}
		readings = append(readings, monitoring.Reading{SensorID: id, ObservedAt: ts, Temperature: w.Temperature})
	}
	return readings, dropped, nil
}

func parseObservedAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, fmt.Errorf("missing observedAt")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		ts, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid observedAt %q: %w", s, err)
		}
		return ts.UTC(), nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid observedAt %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// SensorIDFromTopic returns the topic segment matched by the single-level
// wildcard of filter, or "" when there is none.
func SensorIDFromTopic(topic, filter string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, seg := range fs {
		if seg == "+" && i < len(ts) {
			return ts[i]
		}
	}
	return ""
}
