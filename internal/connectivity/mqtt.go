package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of the paho client the source needs. Keeping it
// as an interface lets tests stub broker behavior.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTTSource derives connectivity from the state of an MQTT broker
// connection: the broker is the sync backend's front door, so holding a
// live session is a direct signal that sync traffic can flow. Connection
// loss only proves the broker is unreachable, so reachability degrades to
// unknown rather than unreachable.
type MQTTSource struct {
	brokerURL string
	clientID  string
	username  string
	password  string
	logger    *slog.Logger

	client MQTTClient
	// newClient builds the client from options; replaced in tests.
	newClient func(opts *mqtt.ClientOptions) MQTTClient
}

// NewMQTTSource creates an MQTT-backed connectivity source.
func NewMQTTSource(brokerURL, clientID, username, password string, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{
		brokerURL: brokerURL,
		clientID:  clientID,
		username:  username,
		password:  password,
		logger:    logger.With("source", "mqtt"),
		newClient: func(opts *mqtt.ClientOptions) MQTTClient {
			return mqtt.NewClient(opts)
		},
	}
}

// Start connects to the broker and pushes a sample on every connect and
// connection-loss callback. Paho reconnects automatically, producing a
// fresh online sample after each recovery.
func (s *MQTTSource) Start(_ context.Context, push func(bool, Reachability)) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.brokerURL).
		SetClientID(s.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if s.username != "" {
		opts.SetUsername(s.username)
		opts.SetPassword(s.password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.logger.Info("broker connected", "broker", s.brokerURL)
		push(true, ReachabilityReachable)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("broker connection lost", "error", err)
		push(false, ReachabilityUnknown)
	})

	s.client = s.newClient(opts)
	token := s.client.Connect()
	// Initial connect failures are not fatal: retry is enabled, and the
	// monitor already starts in the offline state.
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		s.logger.Warn("initial broker connect failed", "error", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() error {
	if s.client == nil {
		return fmt.Errorf("mqtt source not started")
	}
	s.client.Disconnect(250)
	return nil
}
