package connectivity

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type fakeMQTTClient struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return fakeToken{}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.disconnected
}

func TestMQTTSource_PushesSamplesFromHandlers(t *testing.T) {
	src := NewMQTTSource("tcp://broker.local:1883", "test-client", "", "", nil)

	client := &fakeMQTTClient{}
	var capturedOpts *mqtt.ClientOptions
	src.newClient = func(opts *mqtt.ClientOptions) MQTTClient {
		capturedOpts = opts
		return client
	}

	type sample struct {
		connected bool
		reachable Reachability
	}
	var mu sync.Mutex
	var samples []sample
	push := func(connected bool, reachable Reachability) {
		mu.Lock()
		samples = append(samples, sample{connected, reachable})
		mu.Unlock()
	}

	if err := src.Start(context.Background(), push); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("expected Connect called")
	}
	if capturedOpts == nil {
		t.Fatal("expected client options captured")
	}

	// Broker session established.
	capturedOpts.OnConnect(nil)
	// Broker session dropped: reachability degrades to unknown, not
	// unreachable.
	capturedOpts.OnConnectionLost(nil, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if !samples[0].connected || samples[0].reachable != ReachabilityReachable {
		t.Errorf("expected online/reachable on connect, got %+v", samples[0])
	}
	if samples[1].connected || samples[1].reachable != ReachabilityUnknown {
		t.Errorf("expected offline/unknown on connection loss, got %+v", samples[1])
	}
}

func TestMQTTSource_StopDisconnects(t *testing.T) {
	src := NewMQTTSource("tcp://broker.local:1883", "test-client", "", "", nil)
	client := &fakeMQTTClient{}
	src.newClient = func(*mqtt.ClientOptions) MQTTClient { return client }

	if err := src.Start(context.Background(), func(bool, Reachability) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !client.disconnected {
		t.Error("expected Disconnect called")
	}
}

func TestMQTTSource_StopBeforeStart(t *testing.T) {
	src := NewMQTTSource("tcp://broker.local:1883", "test-client", "", "", nil)
	if err := src.Stop(); err == nil {
		t.Error("expected error stopping unstarted source")
	}
}
