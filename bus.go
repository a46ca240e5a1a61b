package natsapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// BusConfig enumerates the recognized NATS connection options (§4.5). Zero
// values mean "use the underlying client's documented default" — Connect
// only overrides an option when it's explicitly set below.
type BusConfig struct {
	Servers []string

	Name            string
	User            string
	Password        string
	Token           string
	NKeysSeed       string
	UserCredentials string

	TLS         *tls.Config
	TLSHostname string

	AllowReconnect     *bool
	MaxReconnectTries  int
	ReconnectWait      time.Duration

	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
	FlushTimeout   time.Duration

	PingInterval      time.Duration
	MaxOutstandingPings int

	Verbose       bool
	Pedantic      bool
	NoEcho        bool
	DontRandomize bool

	FlusherQueueSize int
	PendingSize      int

	ErrorCB            nats.ErrHandler
	ClosedCB           nats.ConnHandler
	ReconnectedCB      nats.ConnHandler
	DisconnectedCB     nats.ConnErrHandler
	DiscoveredServerCB nats.ConnHandler

	Logger *slog.Logger
}

// Bus wraps a *nats.Conn with the publish/request helpers the framework
// needs (C6), grounded on the connection-options pattern nats.go exposes
// through functional Option values.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect opens a NATS connection honoring cfg (§4.5). Callback options left
// nil get a default that logs and continues, matching the Python original's
// "defaults provided: log + continue".
func Connect(cfg BusConfig) (*Bus, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.User != "" || cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.NKeysSeed != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeysSeed)
		if err != nil {
			return nil, fmt.Errorf("loading nkeys seed: %w", err)
		}
		opts = append(opts, opt)
	}
	if cfg.UserCredentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.UserCredentials))
	}
	if cfg.TLS != nil || cfg.TLSHostname != "" {
		tlsConf := cfg.TLS
		if tlsConf == nil {
			tlsConf = &tls.Config{}
		}
		if cfg.TLSHostname != "" {
			tlsConf.ServerName = cfg.TLSHostname
		}
		opts = append(opts, nats.Secure(tlsConf))
	}
	if cfg.AllowReconnect != nil && !*cfg.AllowReconnect {
		opts = append(opts, nats.NoReconnect())
	}
	if cfg.MaxReconnectTries != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnectTries))
	}
	if cfg.ReconnectWait != 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.ConnectTimeout != 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.DrainTimeout != 0 {
		opts = append(opts, nats.DrainTimeout(cfg.DrainTimeout))
	}
	if cfg.FlushTimeout != 0 {
		opts = append(opts, nats.FlusherTimeout(cfg.FlushTimeout))
	}
	if cfg.PingInterval != 0 {
		opts = append(opts, nats.PingInterval(cfg.PingInterval))
	}
	if cfg.MaxOutstandingPings != 0 {
		opts = append(opts, nats.MaxPingsOutstanding(cfg.MaxOutstandingPings))
	}
	if cfg.Verbose {
		opts = append(opts, nats.Verbose())
	}
	if cfg.Pedantic {
		opts = append(opts, nats.Pedantic())
	}
	if cfg.NoEcho {
		opts = append(opts, nats.NoEcho())
	}
	if cfg.DontRandomize {
		opts = append(opts, nats.DontRandomize())
	}
	if cfg.FlusherQueueSize != 0 {
		opts = append(opts, nats.FlusherQueueSize(cfg.FlusherQueueSize))
	}
	if cfg.PendingSize != 0 {
		opts = append(opts, nats.ReconnectBufSize(cfg.PendingSize))
	}

	errorCB := cfg.ErrorCB
	if errorCB == nil {
		errorCB = func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error("nats async error", slog.Any("error", err), slog.String("subject", subjectOf(s)))
		}
	}
	opts = append(opts, nats.ErrorHandler(errorCB))

	closedCB := cfg.ClosedCB
	if closedCB == nil {
		closedCB = func(c *nats.Conn) { logger.Info("nats connection closed") }
	}
	opts = append(opts, nats.ClosedHandler(closedCB))

	reconnectedCB := cfg.ReconnectedCB
	if reconnectedCB == nil {
		reconnectedCB = func(c *nats.Conn) { logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl())) }
	}
	opts = append(opts, nats.ReconnectHandler(reconnectedCB))

	disconnectedCB := cfg.DisconnectedCB
	if disconnectedCB == nil {
		disconnectedCB = func(c *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}
	}
	opts = append(opts, nats.DisconnectErrHandler(disconnectedCB))

	discoveredCB := cfg.DiscoveredServerCB
	if discoveredCB == nil {
		discoveredCB = func(c *nats.Conn) { logger.Info("nats discovered server") }
	}
	opts = append(opts, nats.DiscoveredServersHandler(discoveredCB))

	servers := "nats://127.0.0.1:4222"
	if len(cfg.Servers) > 0 {
		servers = joinServers(cfg.Servers)
	}

	conn, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Bus{conn: conn, logger: logger}, nil
}

func joinServers(servers []string) string {
	out := servers[0]
	for _, s := range servers[1:] {
		out += "," + s
	}
	return out
}

func subjectOf(s *nats.Subscription) string {
	if s == nil {
		return ""
	}
	return s.Subject
}

// SubscribeOptions maps §4.5's subscribe option set.
type SubscribeOptions struct {
	Queue             string
	PendingMsgsLimit  int
	PendingBytesLimit int
}

// Subscribe registers handler as the sink for every message received on
// subject, dispatching each into fn. max_msgs from §4.5 is intentionally
// unsupported — the framework subscribes once per root path for the life of
// the application, never for a bounded count of messages.
func (b *Bus) Subscribe(subject string, opts SubscribeOptions, fn func(InboundMessage)) (*nats.Subscription, error) {
	handler := func(msg *nats.Msg) {
		fn(InboundMessage{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	}

	var sub *nats.Subscription
	var err error
	if opts.Queue != "" {
		sub, err = b.conn.QueueSubscribe(subject, opts.Queue, handler)
	} else {
		sub, err = b.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribing to %q: %w", subject, err)
	}
	if opts.PendingMsgsLimit != 0 || opts.PendingBytesLimit != 0 {
		msgLimit, bytesLimit := opts.PendingMsgsLimit, opts.PendingBytesLimit
		if msgLimit == 0 {
			msgLimit = nats.DefaultSubPendingMsgsLimit
		}
		if bytesLimit == 0 {
			bytesLimit = nats.DefaultSubPendingBytesLimit
		}
		if err := sub.SetPendingLimits(msgLimit, bytesLimit); err != nil {
			return nil, fmt.Errorf("setting pending limits for %q: %w", subject, err)
		}
	}
	return sub, nil
}

// Publish sends raw bytes to subject with no reply expected, satisfying the
// Dispatcher's Publisher interface for outgoing replies.
func (b *Bus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// PublishFireAndForget wraps params in a JSON-RPC request envelope with
// timeout=-1, marking it as one-way per §4.5's publish contract.
func (b *Bus) PublishFireAndForget(subject string, params any, method string) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling publish params: %w", err)
	}
	req := Request{JSONRPC: "2.0", ID: uuid.New(), Method: method, Params: raw, Timeout: -1}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling publish envelope: %w", err)
	}
	return b.conn.Publish(subject, data)
}

// Request wraps params in a JSON-RPC request envelope, awaits a reply
// within timeout, and parses it into a Reply (§4.5's request contract).
func (b *Bus) Request(ctx context.Context, subject string, params any, timeout time.Duration, method string) (*Reply, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling request params: %w", err)
	}
	req := Request{JSONRPC: "2.0", ID: uuid.New(), Method: method, Params: raw, Timeout: timeout.Seconds()}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request envelope: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request on %q: %w", subject, err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decoding reply from %q: %w", subject, err)
	}
	return &reply, nil
}

// Drain stops accepting new messages and lets pending ones finish (§4.7
// shutdown step 2).
func (b *Bus) Drain() error {
	return b.conn.Drain()
}

// Close closes the underlying connection (§4.7 shutdown step 3).
func (b *Bus) Close() {
	b.conn.Close()
}
