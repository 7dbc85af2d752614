package esgf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects how a query reaches the index nodes.
type Mode int

const (
	// ModeFederated sends one query to the entry point node, which fans out
	// to its peers server-side.
	ModeFederated Mode = iota

	// ModeLocal queries every index node with server-side federation
	// disabled and concatenates the results in node order.
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeFederated:
		return "federated"
	case ModeLocal:
		return "local"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultTimeout is the per-request timeout.
const DefaultTimeout = 120 * time.Second

// -----------------------------------------------------------------------------
// Client Configuration
// -----------------------------------------------------------------------------

type clientConfig struct {
	endpoints   []Endpoint
	mode        Mode
	pageSize    int
	timeout     time.Duration
	concurrency int
	userAgent   string
	logger      *zap.Logger
	observer    Observer
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*clientConfig)

// WithIndexNodes sets the index node hosts. The first host is the
// federation entry point.
func WithIndexNodes(hosts ...string) Option {
	return func(c *clientConfig) {
		c.endpoints = NodeEndpoints(hosts)
	}
}

// WithEndpoints sets full search endpoint URLs instead of hosts.
func WithEndpoints(endpoints ...Endpoint) Option {
	return func(c *clientConfig) {
		c.endpoints = append([]Endpoint(nil), endpoints...)
	}
}

// WithMode selects federated or local search. Default: ModeFederated.
func WithMode(m Mode) Option {
	return func(c *clientConfig) {
		c.mode = m
	}
}

// WithPageSize sets the page size, between 1 and MaxPageSize.
func WithPageSize(n int) Option {
	return func(c *clientConfig) {
		c.pageSize = n
	}
}

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithConcurrency sets how many index nodes are drained at once in local
// mode. Results are still yielded in node order. Default: 1.
func WithConcurrency(n int) Option {
	return func(c *clientConfig) {
		c.concurrency = n
	}
}

// WithUserAgent sets the User-Agent header of search requests.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the diagnostic logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithObserver registers an observer for search requests.
func WithObserver(o Observer) Option {
	return func(c *clientConfig) {
		c.observer = o
	}
}

// WithHTTPClient makes every session share hc instead of owning a transport.
// The client's own timeout applies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client is the federation controller. It implements Searcher.
type Client struct {
	cfg *clientConfig
}

// NewClient creates a Client with documented defaults:
//   - index nodes: DefaultIndexNodes
//   - mode: ModeFederated
//   - page size: MaxPageSize
//   - timeout: DefaultTimeout
//   - concurrency: 1
func NewClient(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		endpoints:   NodeEndpoints(DefaultIndexNodes),
		mode:        ModeFederated,
		pageSize:    MaxPageSize,
		timeout:     DefaultTimeout,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.endpoints) == 0 {
		return nil, errors.New("esgf: at least one index node is required")
	}
	if cfg.pageSize < 1 || cfg.pageSize > MaxPageSize {
		return nil, fmt.Errorf("esgf: page size %d outside 1..%d", cfg.pageSize, MaxPageSize)
	}
	if cfg.timeout <= 0 {
		return nil, errors.New("esgf: timeout must be positive")
	}
	if cfg.concurrency < 1 {
		return nil, errors.New("esgf: concurrency must be at least 1")
	}
	if cfg.mode != ModeFederated && cfg.mode != ModeLocal {
		return nil, fmt.Errorf("esgf: unknown mode %v", cfg.mode)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return &Client{cfg: cfg}, nil
}

// Mode returns the configured search mode.
func (c *Client) Mode() Mode {
	return c.cfg.mode
}

// Endpoints returns the configured endpoints in order.
func (c *Client) Endpoints() []Endpoint {
	return append([]Endpoint(nil), c.cfg.endpoints...)
}

// OpenSession opens a connection scope for one endpoint.
func (c *Client) OpenSession(endpoint Endpoint) *Session {
	return newSession(endpoint, c.cfg)
}

// Search returns the records matching q.
//
// In federated mode the query goes unmodified to the first endpoint. In
// local mode every endpoint is queried with distrib=false, in order, and
// stop caps each endpoint separately. Records found on several nodes are
// yielded once per node.
func (c *Client) Search(ctx context.Context, q Query, stop int) (RecordIterator, error) {
	if c.cfg.mode == ModeFederated {
		p, err := c.searchEndpoint(ctx, c.cfg.endpoints[0], q, stop)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	local := q.With("distrib", "false")
	if c.cfg.concurrency > 1 {
		return c.searchParallel(ctx, local, stop)
	}
	return &chain{ctx: ctx, client: c, query: local, stop: stop}, nil
}

func (c *Client) searchEndpoint(ctx context.Context, ep Endpoint, q Query, stop int) (*Pager, error) {
	s := c.OpenSession(ep)
	p, err := s.Search(ctx, q, stop)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return p, nil
}

// searchParallel drains every endpoint concurrently and replays the buffered
// results in endpoint order.
func (c *Client) searchParallel(ctx context.Context, q Query, stop int) (RecordIterator, error) {
	results := make([][]Record, len(c.cfg.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.concurrency)
	for i, ep := range c.cfg.endpoints {
		g.Go(func() error {
			c.cfg.logger.Debug("node start", zap.String("endpoint", string(ep)))
			p, err := c.searchEndpoint(gctx, ep, q, stop)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()
			var buf []Record
			for p.Next() {
				buf = append(buf, p.Record())
			}
			if err := p.Err(); err != nil {
				return err
			}
			results[i] = buf
			c.cfg.logger.Debug("node done",
				zap.String("endpoint", string(ep)),
				zap.Int("records", len(buf)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &bufferedIterator{batches: results}, nil
}

// -----------------------------------------------------------------------------
// Iterators
// -----------------------------------------------------------------------------

// chain concatenates the pagers of every endpoint. Only one endpoint is open
// at a time.
type chain struct {
	ctx    context.Context
	client *Client
	query  Query
	stop   int

	next int
	cur  *Pager
	rec  Record
	err  error
}

func (c *chain) Next() bool {
	for c.err == nil {
		if c.cur == nil {
			endpoints := c.client.cfg.endpoints
			if c.next >= len(endpoints) {
				return false
			}
			ep := endpoints[c.next]
			c.next++
			c.client.cfg.logger.Debug("node start", zap.String("endpoint", string(ep)))
			p, err := c.client.searchEndpoint(c.ctx, ep, c.query, c.stop)
			if err != nil {
				c.err = err
				return false
			}
			c.cur = p
		}
		if c.cur.Next() {
			c.rec = c.cur.Record()
			return true
		}
		c.err = c.cur.Err()
		_ = c.cur.Close()
		c.client.cfg.logger.Debug("node done",
			zap.String("endpoint", string(c.cur.session.endpoint)),
			zap.Int("records", c.cur.offset))
		c.cur = nil
	}
	return false
}

func (c *chain) Record() Record {
	return c.rec
}

func (c *chain) Err() error {
	return c.err
}

func (c *chain) Close() error {
	if c.cur != nil {
		_ = c.cur.Close()
		c.cur = nil
	}
	c.next = len(c.client.cfg.endpoints)
	return nil
}

// bufferedIterator replays records already fetched, batch by batch.
type bufferedIterator struct {
	batches [][]Record
	rec     Record
}

func (b *bufferedIterator) Next() bool {
	for len(b.batches) > 0 {
		if len(b.batches[0]) == 0 {
			b.batches = b.batches[1:]
			continue
		}
		b.rec = b.batches[0][0]
		b.batches[0] = b.batches[0][1:]
		return true
	}
	return false
}

func (b *bufferedIterator) Record() Record {
	return b.rec
}

func (b *bufferedIterator) Err() error {
	return nil
}

func (b *bufferedIterator) Close() error {
	b.batches = nil
	return nil
}

var (
	_ Searcher       = (*Client)(nil)
	_ RecordIterator = (*chain)(nil)
	_ RecordIterator = (*bufferedIterator)(nil)
)
