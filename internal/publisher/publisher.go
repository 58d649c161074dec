package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/gmpfetcher/internal/config"
	"github.com/jgoulah/gmpfetcher/pkg/models"
)

const publishTimeout = 10 * time.Second

// mqttPublisher is the part of mqtt.Client the publisher uses
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher pushes the latest daily total to Home Assistant and/or MQTT
type Publisher struct {
	mqtt        mqttPublisher
	disconnect  func()
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client
}

// New creates a new publisher for whichever targets are enabled
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	p := &Publisher{
		haConfig:    haCfg,
		topicPrefix: strings.TrimRight(mqttCfg.TopicPrefix, "/"),
		httpClient:  &http.Client{Timeout: publishTimeout},
	}
	if p.topicPrefix == "" {
		p.topicPrefix = "gmp"
	}

	if haCfg.Enabled() {
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.EntityID == "" {
			return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
		}
	}

	if mqttCfg.Enabled() {
		// Configure MQTT client options
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("gmpfetcher")
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
		p.mqtt = client
		p.disconnect = func() {
			if client.IsConnected() {
				client.Disconnect(250)
			}
		}
	}

	return p, nil
}

// DailyPayload is the MQTT message for the latest daily total
type DailyPayload struct {
	Date        string  `json:"date"`
	TotalKWh    float64 `json:"total_kwh"`
	GeneratedAt string  `json:"generated_at"`
}

// HAState matches the Home Assistant POST /api/states/<entity_id> body
type HAState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Name identifies the publisher in cycle logs
func (p *Publisher) Name() string {
	return "publisher"
}

// Consume publishes the most recent daily total of the snapshot
func (p *Publisher) Consume(ctx context.Context, s models.Snapshot) error {
	latest, ok := LatestTotal(s.DailyTotals)
	if !ok {
		return nil
	}

	var errs []error
	if p.haConfig.Enabled() {
		if err := p.publishHA(ctx, latest, s.GeneratedAt); err != nil {
			errs = append(errs, fmt.Errorf("home assistant: %w", err))
		}
	}
	if p.mqtt != nil {
		if err := p.publishMQTT(latest, s.GeneratedAt); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LatestTotal returns the total with the latest calendar date
func LatestTotal(totals []models.DailyTotal) (models.DailyTotal, bool) {
	if len(totals) == 0 {
		return models.DailyTotal{}, false
	}
	latest := totals[0]
	for _, dt := range totals[1:] {
		if dt.Date > latest.Date {
			latest = dt
		}
	}
	return latest, true
}

func (p *Publisher) publishHA(ctx context.Context, total models.DailyTotal, generatedAt time.Time) error {
	apiURL := fmt.Sprintf("%s/api/states/%s", strings.TrimRight(p.haConfig.URL, "/"), url.PathEscape(p.haConfig.EntityID))

	payload := HAState{
		State: fmt.Sprintf("%.2f", total.TotalKWh),
		Attributes: map[string]any{
			"unit_of_measurement": "kWh",
			"device_class":        "energy",
			"date":                total.Date,
			"generated_at":        generatedAt.Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (p *Publisher) publishMQTT(total models.DailyTotal, generatedAt time.Time) error {
	body, err := json.Marshal(DailyPayload{
		Date:        total.Date,
		TotalKWh:    total.TotalKWh,
		GeneratedAt: generatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.mqtt.Publish(p.topicPrefix+"/daily_total", 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timed out after %s", publishTimeout)
	}
	return token.Error()
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.disconnect != nil {
		p.disconnect()
	}
}
