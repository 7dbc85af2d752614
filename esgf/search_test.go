package esgf_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/justapithecus/esgfsearch/esgf"
	"github.com/justapithecus/esgfsearch/internal/testutil"
)

func newClient(t *testing.T, nodes []*testutil.Node, opts ...esgf.Option) *esgf.Client {
	t.Helper()
	endpoints := make([]esgf.Endpoint, len(nodes))
	for i, n := range nodes {
		endpoints[i] = esgf.Endpoint(n.URL())
	}
	c, err := esgf.NewClient(append([]esgf.Option{esgf.WithEndpoints(endpoints...)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func drain(t *testing.T, it esgf.RecordIterator) []esgf.Record {
	t.Helper()
	defer func() { _ = it.Close() }()
	var out []esgf.Record
	for it.Next() {
		out = append(out, it.Record())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return out
}

func titles(records []esgf.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r.First("title")
	}
	return out
}

func TestPager_CountThenPages(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(10)...)
	c := newClient(t, []*testutil.Node{node}, esgf.WithPageSize(4))

	p, err := c.OpenSession(esgf.Endpoint(node.URL())).Search(t.Context(), esgf.NewQuery(esgf.Facet{Name: "project", Value: "proj"}), esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if p.Found() != 10 || p.Total() != 10 {
		t.Errorf("Found, Total = %d, %d; want 10, 10", p.Found(), p.Total())
	}
	records := drain(t, p)
	if len(records) != 10 {
		t.Fatalf("records = %d, want 10", len(records))
	}
	if got := titles(records)[9]; got != "tas_9.nc" {
		t.Errorf("last title = %q, want tas_9.nc", got)
	}

	reqs := node.Requests()
	want := []struct{ limit, offset int }{{0, 0}, {4, 0}, {4, 4}, {2, 8}}
	if len(reqs) != len(want) {
		t.Fatalf("requests = %d, want %d", len(reqs), len(want))
	}
	for i, w := range want {
		if reqs[i].Limit != w.limit || reqs[i].Offset != w.offset {
			t.Errorf("request %d limit=%d offset=%d, want limit=%d offset=%d",
				i, reqs[i].Limit, reqs[i].Offset, w.limit, w.offset)
		}
		if got := reqs[i].Params.Get("format"); got != "application/solr+json" {
			t.Errorf("request %d format = %q", i, got)
		}
		if got := reqs[i].Params.Get("project"); got != "proj" {
			t.Errorf("request %d project = %q", i, got)
		}
	}
	if w := p.Window(); w.Offset != 10 || w.Remaining != 0 || w.Limit != 4 {
		t.Errorf("Window = %+v", w)
	}
}

func TestPager_Stop(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(12)...)
	c := newClient(t, []*testutil.Node{node}, esgf.WithPageSize(3))

	it, err := c.Search(t.Context(), esgf.Query{}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := len(drain(t, it)); n != 5 {
		t.Errorf("records = %d, want 5", n)
	}
	for _, r := range node.Requests() {
		if r.IsCount() {
			continue
		}
		if r.Offset >= 5 || r.Offset+r.Limit > 5 {
			t.Errorf("page request offset=%d limit=%d reaches past stop", r.Offset, r.Limit)
		}
	}
	if _, pages := node.Counts(); pages != 2 {
		t.Errorf("page requests = %d, want 2", pages)
	}
}

func TestPager_StopZero(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(3)...)
	c := newClient(t, []*testutil.Node{node})

	it, err := c.Search(t.Context(), esgf.Query{}, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := len(drain(t, it)); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
	if count, pages := node.Counts(); count != 1 || pages != 0 {
		t.Errorf("count, page requests = %d, %d; want 1, 0", count, pages)
	}
}

func TestPager_NoResults(t *testing.T) {
	node := testutil.NewNode(t)
	c := newClient(t, []*testutil.Node{node})

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := len(drain(t, it)); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
	if len(node.Requests()) != 1 {
		t.Errorf("requests = %d, want only the count", len(node.Requests()))
	}
}

func TestPager_PageSizeCapped(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(2)...)
	node.SetFound(20000)
	c := newClient(t, []*testutil.Node{node})

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	defer func() { _ = it.Close() }()
	for it.Next() {
	}
	if !errors.Is(it.Err(), esgf.ErrShortResult) {
		t.Errorf("Err = %v, want ErrShortResult", it.Err())
	}
	for _, r := range node.Requests() {
		if r.Limit > esgf.MaxPageSize {
			t.Errorf("request limit %d exceeds %d", r.Limit, esgf.MaxPageSize)
		}
	}
	reqs := node.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want count and two pages", len(reqs))
	}
	if reqs[1].Limit != esgf.MaxPageSize || reqs[2].Offset != 2 {
		t.Errorf("pages = %+v, %+v; want limit %d then offset 2", reqs[1], reqs[2], esgf.MaxPageSize)
	}
}

func TestPager_HTTPError(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(1)...)
	node.SetStatus(http.StatusServiceUnavailable)
	c := newClient(t, []*testutil.Node{node})

	_, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	var httpErr *esgf.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", httpErr.StatusCode)
	}
}

func TestPager_ResponseContract(t *testing.T) {
	tests := map[string]string{
		"no response": `{"responseHeader":{}}`,
		"not json":    `<html>`,
		"doc not obj": `{"response":{"numFound":1,"docs":[1]}}`,
	}
	for name, body := range tests {
		node := testutil.NewNode(t)
		node.SetRaw(body)
		c := newClient(t, []*testutil.Node{node})

		it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
		if err == nil {
			for it.Next() {
			}
			err = it.Err()
			_ = it.Close()
		}
		if !errors.Is(err, esgf.ErrResponseContract) {
			t.Errorf("%s: error = %v, want ErrResponseContract", name, err)
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []esgf.RequestEvent
}

func (o *recordingObserver) ObserveRequest(ev esgf.RequestEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func TestPager_Observer(t *testing.T) {
	node := testutil.NewNode(t, testutil.Docs(3)...)
	obs := &recordingObserver{}
	c := newClient(t, []*testutil.Node{node}, esgf.WithObserver(obs), esgf.WithPageSize(2))

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	drain(t, it)

	if len(obs.events) != 3 {
		t.Fatalf("events = %d, want 3", len(obs.events))
	}
	if ev := obs.events[0]; ev.Phase != esgf.PhaseCount || ev.Found != 3 || ev.Status != 200 {
		t.Errorf("count event = %+v", ev)
	}
	if ev := obs.events[2]; ev.Phase != esgf.PhasePage || ev.Docs != 1 {
		t.Errorf("last page event = %+v", ev)
	}
}

func TestSession_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"response":{"numFound":0,"docs":[]}}`))
	}))
	defer srv.Close()

	c, err := esgf.NewClient(esgf.WithEndpoints(esgf.Endpoint(srv.URL)), esgf.WithUserAgent("esgfsearch-test"))
	if err != nil {
		t.Fatal(err)
	}
	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	_ = it.Close()
	if got != "esgfsearch-test" {
		t.Errorf("User-Agent = %q, want esgfsearch-test", got)
	}
}
