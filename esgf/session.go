package esgf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Request phases reported to observers.
const (
	PhaseCount = "count"
	PhasePage  = "page"
)

// RequestEvent describes one completed search request.
type RequestEvent struct {
	Endpoint Endpoint
	URL      string
	Phase    string
	Status   int
	Found    int64 // numFound, count phase only
	Docs     int   // documents returned, page phase only
	Duration time.Duration
	Err      error
}

// Observer receives an event for every search request.
type Observer interface {
	ObserveRequest(ev RequestEvent)
}

// Session is a connection scope for one index node. Close releases its
// pooled connections.
type Session struct {
	endpoint  Endpoint
	client    *http.Client
	transport *http.Transport // nil when the HTTP client was supplied
	cfg       *clientConfig
}

func newSession(endpoint Endpoint, cfg *clientConfig) *Session {
	s := &Session{endpoint: endpoint, cfg: cfg}
	if cfg.httpClient != nil {
		s.client = cfg.httpClient
		return s
	}
	s.transport = http.DefaultTransport.(*http.Transport).Clone()
	s.client = &http.Client{Transport: s.transport, Timeout: cfg.timeout}
	return s
}

// Endpoint returns the index node this session talks to.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Close releases idle connections held by the session.
func (s *Session) Close() error {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	return nil
}

// count issues the limit=0 request and returns numFound.
func (s *Session) count(ctx context.Context, q Query) (int64, error) {
	u := s.url(q, Facet{"limit", "0"}, Facet{"format", solrFormat})
	found, _, err := s.do(ctx, u, PhaseCount)
	if err != nil {
		return 0, err
	}
	s.cfg.logger.Info("search count",
		zap.String("endpoint", string(s.endpoint)),
		zap.String("url", u),
		zap.Int64("found", found))
	return found, nil
}

// page fetches limit records starting at offset.
func (s *Session) page(ctx context.Context, q Query, offset, limit int) ([]Record, error) {
	u := s.url(q,
		Facet{"limit", strconv.Itoa(limit)},
		Facet{"format", solrFormat},
		Facet{"offset", strconv.Itoa(offset)})
	_, docs, err := s.do(ctx, u, PhasePage)
	if err != nil {
		return nil, err
	}
	s.cfg.logger.Info("search page",
		zap.String("url", u),
		zap.Int("offset", offset),
		zap.Int("limit", limit),
		zap.Int("docs", len(docs)))
	return docs, nil
}

func (s *Session) url(q Query, params ...Facet) string {
	return string(s.endpoint) + "?" + q.Encode(params...)
}

func (s *Session) do(ctx context.Context, u, phase string) (int64, []Record, error) {
	start := time.Now()
	ev := RequestEvent{Endpoint: s.endpoint, URL: u, Phase: phase}
	defer func() {
		ev.Duration = time.Since(start)
		if s.cfg.observer != nil {
			s.cfg.observer.ObserveRequest(ev)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		ev.Err = err
		return 0, nil, fmt.Errorf("esgf: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.userAgent != "" {
		req.Header.Set("User-Agent", s.cfg.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		ev.Err = err
		return 0, nil, fmt.Errorf("esgf: search %s: %w", s.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	ev.Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		ev.Err = &HTTPError{URL: u, StatusCode: resp.StatusCode}
		return 0, nil, ev.Err
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		ev.Err = err
		return 0, nil, fmt.Errorf("esgf: %s: %w", u, err)
	}
	switch phase {
	case PhaseCount:
		if !env.hasFound {
			ev.Err = ErrResponseContract
			return 0, nil, fmt.Errorf("esgf: %s: %w: no response.numFound", u, ErrResponseContract)
		}
	case PhasePage:
		if !env.hasDocs {
			ev.Err = ErrResponseContract
			return 0, nil, fmt.Errorf("esgf: %s: %w: no response.docs", u, ErrResponseContract)
		}
	}
	ev.Found, ev.Docs = env.found, len(env.docs)
	return env.found, env.docs, nil
}

// envelope is the part of a Solr JSON response the client reads.
type envelope struct {
	found    int64
	hasFound bool
	docs     []Record
	hasDocs  bool
}

// decodeEnvelope streams {"response": {"numFound": N, "docs": [...]}} from r.
// Fields other than response.numFound and response.docs are skipped.
func decodeEnvelope(r io.Reader) (envelope, error) {
	var env envelope
	var docErr error
	iter := jsoniter.Parse(recordJSON, r, 32*1024)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		if field != "response" {
			it.Skip()
			return it.Error == nil
		}
		it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			switch field {
			case "numFound":
				env.found = it.ReadInt64()
				env.hasFound = true
			case "docs":
				env.hasDocs = true
				it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
					rec, err := decodeRecord(it)
					if err != nil {
						docErr = err
						return false
					}
					env.docs = append(env.docs, rec)
					return true
				})
			default:
				it.Skip()
			}
			return it.Error == nil && docErr == nil
		})
		return it.Error == nil && docErr == nil
	})
	if docErr != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrResponseContract, docErr)
	}
	if iter.Error != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrResponseContract, iter.Error)
	}
	return env, nil
}
