package eventbus

import (
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"

	"pylon/pkg/logging"
)

// RedisConfig carries the connection settings for a RedisTransport.
type RedisConfig struct {
	Address  string // host:port
	Password string
	DB       int
	Channel  string // pub/sub channel all nodes share
}

// RedisTransport publishes every event onto a single shared pub/sub channel
// as a small envelope {event, payload}, and dispatches incoming messages to
// whichever local subscribers registered for that event name.
type RedisTransport struct {
	cfg  RedisConfig
	pool *redis.Pool
	psc  *redis.PubSubConn

	subs *subscriberSet

	done chan struct{}
}

// NewRedisTransport constructs a RedisTransport from cfg without connecting.
func NewRedisTransport(cfg RedisConfig) *RedisTransport {
	return &RedisTransport{cfg: cfg, subs: newSubscriberSet()}
}

func (t *RedisTransport) Start() error {
	t.pool = &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", t.cfg.Address)
			if err != nil {
				return nil, err
			}
			if t.cfg.Password != "" {
				if _, err := c.Do("AUTH", t.cfg.Password); err != nil {
					c.Close()
					return nil, err
				}
			}
			if t.cfg.DB != 0 {
				if _, err := c.Do("SELECT", t.cfg.DB); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		},
	}

	conn := t.pool.Get()
	if err := conn.Err(); err != nil {
		conn.Close()
		t.pool.Close()
		return fmt.Errorf("eventbus: connecting to redis: %w", err)
	}
	conn.Close()

	subConn, err := t.pool.Dial()
	if err != nil {
		t.pool.Close()
		return fmt.Errorf("eventbus: opening redis subscriber connection: %w", err)
	}
	t.psc = &redis.PubSubConn{Conn: subConn}
	if err := t.psc.Subscribe(t.cfg.Channel); err != nil {
		t.psc.Close()
		t.pool.Close()
		return fmt.Errorf("eventbus: subscribing to channel %s: %w", t.cfg.Channel, err)
	}

	t.done = make(chan struct{})
	go t.receiveLoop()
	return nil
}

func (t *RedisTransport) receiveLoop() {
	for {
		switch v := t.psc.Receive().(type) {
		case redis.Message:
			event, payload, err := splitEnvelope(v.Data)
			if err != nil {
				logging.Error("EventBus", err, "decoding redis envelope")
				continue
			}
			for _, h := range t.subs.handlers(event) {
				h(payload)
			}
		case error:
			select {
			case <-t.done:
				return
			default:
				logging.Error("EventBus", v, "redis subscription error")
				return
			}
		}
	}
}

func (t *RedisTransport) Stop() error {
	close(t.done)
	if t.psc != nil {
		t.psc.Close()
	}
	if t.pool != nil {
		return t.pool.Close()
	}
	return nil
}

func (t *RedisTransport) Publish(event string, payload []byte) error {
	conn := t.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PUBLISH", t.cfg.Channel, joinEnvelope(event, payload))
	return err
}

func (t *RedisTransport) Subscribe(event string, handler func(payload []byte)) (func(), error) {
	return t.subs.add(event, handler), nil
}

// joinEnvelope/splitEnvelope pack an event name with its payload bytes onto
// a single redis pub/sub message using a length-prefixed event name so the
// payload itself (arbitrary JSON) never needs escaping.
func joinEnvelope(event string, payload []byte) []byte {
	buf := make([]byte, 0, len(event)+1+len(payload))
	buf = append(buf, byte(len(event)))
	buf = append(buf, event...)
	buf = append(buf, payload...)
	return buf
}

func splitEnvelope(data []byte) (event string, payload []byte, err error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("eventbus: empty redis message")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", nil, fmt.Errorf("eventbus: truncated redis message")
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}

var _ Transport = (*RedisTransport)(nil)
