package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pylon/pkg/logging"
)

// SocketIOConfig carries the relay connection settings for a
// SocketIOTransport: every node dials the same relay server and exchanges
// small JSON envelopes over a single websocket connection.
type SocketIOConfig struct {
	URL           string // ws(s)://host:port/path
	HandshakeWait time.Duration
}

type socketEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// SocketIOTransport relays events through a central websocket server,
// standing in for the python-socketio client backend: every node is a
// client of one relay, which echoes published events back to every other
// connected client.
type SocketIOTransport struct {
	cfg  SocketIOConfig
	conn *websocket.Conn

	writeMu sync.Mutex
	subs    *subscriberSet

	done chan struct{}
}

// NewSocketIOTransport constructs a SocketIOTransport from cfg without
// connecting; call Start to dial the relay.
func NewSocketIOTransport(cfg SocketIOConfig) *SocketIOTransport {
	if cfg.HandshakeWait == 0 {
		cfg.HandshakeWait = 10 * time.Second
	}
	return &SocketIOTransport{cfg: cfg, subs: newSubscriberSet()}
}

func (t *SocketIOTransport) Start() error {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeWait}
	conn, _, err := dialer.Dial(t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("eventbus: dialing socketio relay %s: %w", t.cfg.URL, err)
	}
	t.conn = conn
	t.done = make(chan struct{})
	go t.readLoop()
	return nil
}

func (t *SocketIOTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				logging.Error("EventBus", err, "socketio relay connection lost")
				return
			}
		}
		var env socketEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Error("EventBus", err, "decoding socketio envelope")
			continue
		}
		for _, h := range t.subs.handlers(env.Event) {
			h(env.Payload)
		}
	}
}

func (t *SocketIOTransport) Stop() error {
	close(t.done)
	return t.conn.Close()
}

func (t *SocketIOTransport) Publish(event string, payload []byte) error {
	env := socketEnvelope{Event: event, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *SocketIOTransport) Subscribe(event string, handler func(payload []byte)) (func(), error) {
	return t.subs.add(event, handler), nil
}

var _ Transport = (*SocketIOTransport)(nil)
