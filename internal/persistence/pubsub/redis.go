// Package pubsub mirrors session status updates onto Redis so other
// processes can follow renders without holding a websocket.
package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	backend "github.com/redis/go-redis/v9"

	"voxelcast.ai/internal/render/notify"
)

type Option func(*Publisher)

// WithPrefix sets the key and channel prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = prefix }
}

// WithTTL sets the expiry of the latest-status hash.
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) { p.ttl = ttl }
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// Publisher publishes every status on <prefix>status and keeps the most
// recent status per session in the hash <prefix>latest.
type Publisher struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger

	ch     chan notify.Status
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
	drops  atomic.Uint64
}

func New(address, password string, db int, opts ...Option) *Publisher {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewFromClient(client *backend.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		prefix: "voxelcast:",
		ttl:    24 * time.Hour,
		logger: log.New(io.Discard, "", 0),
		ch:     make(chan notify.Status, 4096),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
	return p
}

func (p *Publisher) Channel() string   { return p.prefix + "status" }
func (p *Publisher) latestKey() string { return p.prefix + "latest" }

// Dropped counts statuses discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.drops.Load() }

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Notify implements notify.Notifier.
func (p *Publisher) Notify(s notify.Status) {
	if p == nil || p.closed.Load() {
		return
	}
	select {
	case p.ch <- s:
	default:
		p.drops.Add(1)
	}
}

// Latest returns the last status published for a session.
func (p *Publisher) Latest(ctx context.Context, sessionID string) (notify.Status, bool, error) {
	raw, err := p.client.HGet(ctx, p.latestKey(), sessionID).Result()
	if err == backend.Nil {
		return notify.Status{}, false, nil
	}
	if err != nil {
		return notify.Status{}, false, err
	}
	var s notify.Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return notify.Status{}, false, err
	}
	return s, true, nil
}

func (p *Publisher) loop() {
	for s := range p.ch {
		b, err := json.Marshal(s)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pipe := p.client.Pipeline()
		pipe.Publish(ctx, p.Channel(), b)
		pipe.HSet(ctx, p.latestKey(), s.SessionID, b)
		if p.ttl > 0 {
			pipe.Expire(ctx, p.latestKey(), p.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Printf("pubsub: %s %s: %v", s.SessionID, s.Phase, err)
		}
		cancel()
	}
}

// Close drains queued statuses and closes the client.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.ch)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}
