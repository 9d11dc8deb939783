// Package stream implements the live-subscriber fan-out: a connection
// manager that tracks each client's scenario subscriptions and pushes
// signal_update/evaluation_update events to the clients subscribed to that
// event's scenario, or to every client when no scenario filter applies.
// Wire transport is gorilla/websocket.
package stream

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/worldpam/internal/eventbus"
)

// InboundAction is the action field of a client -> server message.
type InboundAction string

const (
	ActionSubscribe   InboundAction = "subscribe"
	ActionUnsubscribe InboundAction = "unsubscribe"
	ActionPing        InboundAction = "ping"
)

// Inbound is the {action, scenario?} message shape clients send.
type Inbound struct {
	Action   InboundAction `json:"action"`
	Scenario string        `json:"scenario,omitempty"`
}

// OutboundType is the type field of a server -> client message.
type OutboundType string

const (
	TypeSubscribed       OutboundType = "subscribed"
	TypeUnsubscribed     OutboundType = "unsubscribed"
	TypePong             OutboundType = "pong"
	TypeSignalUpdate     OutboundType = "signal_update"
	TypeEvaluationUpdate OutboundType = "evaluation_update"
	TypeError            OutboundType = "error"
)

// Outbound is the typed envelope sent to clients.
type Outbound struct {
	Type        OutboundType `json:"type"`
	Scenario    string       `json:"scenario,omitempty"`
	Signal      string       `json:"signal,omitempty"`
	Value       *float64     `json:"value,omitempty"`
	Probability *float64     `json:"probability,omitempty"`
	Country     string       `json:"country,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// conn is the minimal surface the manager needs from a live client
// connection, satisfied by *websocket.Conn. Isolating it behind an
// interface keeps tests off the network.
type conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

type client struct {
	id   uint64
	conn conn

	mu            sync.Mutex
	subscriptions map[string]bool // empty map = subscribed to nothing yet
}

// isSubscribed reports whether c should receive an event tagged with
// scenario. An unfiltered event (scenario == "") reaches every client
// regardless of its subscription set; a scenario-tagged event reaches only
// clients that explicitly subscribed to it, so a freshly connected client
// with no subscriptions yet receives nothing until it subscribes.
func (c *client) isSubscribed(scenario string) bool {
	if scenario == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[scenario]
}

// Manager tracks live clients and their scenario subscriptions, and
// delivers signal_update/evaluation_update events from the bus to the
// clients subscribed to each event's scenario. The live-client set is
// guarded by a mutex; a send failure detected during broadcast enqueues the
// client for removal rather than mutating the set mid-iteration.
type Manager struct {
	mu      sync.Mutex
	clients map[uint64]*client
	nextID  uint64
	log     zerolog.Logger
}

// NewManager constructs an empty Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{clients: make(map[uint64]*client), log: log}
}

// Subscribe wires the manager to bus's signal_update and evaluation_update
// events. Call once at startup.
func (m *Manager) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.KindSignalUpdate, func(ev eventbus.Event) error {
		if ev.Signal == nil {
			return nil
		}
		v := ev.Signal.Value
		m.broadcast(ev.Scenario, Outbound{
			Type:     TypeSignalUpdate,
			Scenario: ev.Scenario,
			Signal:   ev.Signal.SignalName,
			Value:    &v,
			Country:  ev.Signal.Country,
		})
		return nil
	})
	bus.Subscribe(eventbus.KindEvaluationUpdate, func(ev eventbus.Event) error {
		if ev.Eval == nil {
			return nil
		}
		p := ev.Eval.Probability
		m.broadcast(ev.Eval.HypothesisName, Outbound{
			Type:        TypeEvaluationUpdate,
			Scenario:    ev.Eval.HypothesisName,
			Probability: &p,
			Country:     ev.Eval.Country,
		})
		return nil
	})
}

// Handle drives one accepted connection until it disconnects or sends a
// message that fails to parse. It blocks until the connection closes, so
// callers invoke it in its own goroutine per connection.
func (m *Manager) Handle(c conn) {
	cl := m.register(c)
	defer m.remove(cl.id)

	for {
		var in Inbound
		if err := c.ReadJSON(&in); err != nil {
			return
		}
		m.handleInbound(cl, in)
	}
}

func (m *Manager) register(c conn) *client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cl := &client{id: m.nextID, conn: c, subscriptions: make(map[string]bool)}
	m.clients[cl.id] = cl
	return cl
}

func (m *Manager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
}

func (m *Manager) handleInbound(cl *client, in Inbound) {
	switch in.Action {
	case ActionSubscribe:
		cl.mu.Lock()
		cl.subscriptions[in.Scenario] = true
		cl.mu.Unlock()
		m.send(cl, Outbound{Type: TypeSubscribed, Scenario: in.Scenario})
	case ActionUnsubscribe:
		cl.mu.Lock()
		delete(cl.subscriptions, in.Scenario)
		cl.mu.Unlock()
		m.send(cl, Outbound{Type: TypeUnsubscribed, Scenario: in.Scenario})
	case ActionPing:
		m.send(cl, Outbound{Type: TypePong})
	default:
		m.send(cl, Outbound{Type: TypeError, Error: "unknown action"})
	}
}

func (m *Manager) send(cl *client, out Outbound) {
	if err := cl.conn.WriteJSON(out); err != nil {
		m.remove(cl.id)
	}
}

// broadcast delivers out to every client subscribed to scenario (or every
// client, when scenario is empty). Send failures mark that client for
// disconnection without touching the set while iterating.
func (m *Manager) broadcast(scenario string, out Outbound) {
	m.mu.Lock()
	targets := make([]*client, 0, len(m.clients))
	for _, cl := range m.clients {
		if cl.isSubscribed(scenario) {
			targets = append(targets, cl)
		}
	}
	m.mu.Unlock()

	var toRemove []uint64
	for _, cl := range targets {
		if err := cl.conn.WriteJSON(out); err != nil {
			toRemove = append(toRemove, cl.id)
		}
	}
	if len(toRemove) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range toRemove {
		delete(m.clients, id)
	}
	m.mu.Unlock()
}

// ClientCount returns the number of currently registered live clients.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Upgrader wraps websocket.Upgrader so the HTTP layer doesn't need a direct
// gorilla/websocket import alongside this package's conn interface.
type Upgrader struct {
	inner websocket.Upgrader
}

// NewUpgrader constructs an Upgrader. Origin checking is left permissive
// here; auth/CORS policy is the caller's HTTP layer's concern.
func NewUpgrader() *Upgrader {
	return &Upgrader{inner: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}}
}

// Upgrade promotes an HTTP request to a WebSocket connection and hands it to
// m.Handle in a new goroutine.
func (u *Upgrader) Upgrade(m *Manager, w http.ResponseWriter, r *http.Request) error {
	c, err := u.inner.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	go m.Handle(c)
	return nil
}
