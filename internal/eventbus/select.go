package eventbus

// Settings is the subset of the process configuration root this package
// reads to pick a transport: at most one of RabbitMQ/Redis/SocketIO should
// be set, selected in that order when more than one is present.
type Settings struct {
	RabbitMQ *AMQPConfig
	Redis    *RedisConfig
	SocketIO *SocketIOConfig
}

// SelectTransport builds the Transport named by the first populated field
// of s, or nil when none are set (local-only mode). It does not call Start;
// New takes care of that and falls back to local-only on failure.
func SelectTransport(s Settings) Transport {
	switch {
	case s.RabbitMQ != nil:
		return NewAMQPTransport(*s.RabbitMQ)
	case s.Redis != nil:
		return NewRedisTransport(*s.Redis)
	case s.SocketIO != nil:
		return NewSocketIOTransport(*s.SocketIO)
	default:
		return nil
	}
}
