package esgf_test

import (
	"errors"
	"net/http"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/justapithecus/esgfsearch/esgf"
	"github.com/justapithecus/esgfsearch/internal/testutil"
)

func threeNodes(t *testing.T) []*testutil.Node {
	docs := testutil.Docs(6)
	return []*testutil.Node{
		testutil.NewNode(t, docs[0:2]...),
		testutil.NewNode(t, docs[2:5]...),
		testutil.NewNode(t, docs[5:6]...),
	}
}

func TestClient_Federated(t *testing.T) {
	nodes := threeNodes(t)
	nodes[0].SetFederated(testutil.Docs(4)...)
	c := newClient(t, nodes)

	it, err := c.Search(t.Context(), esgf.NewQuery(esgf.Facet{Name: "variable_id", Value: "tas"}), esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := len(drain(t, it)); n != 4 {
		t.Errorf("records = %d, want 4", n)
	}

	count, _ := nodes[0].Counts()
	if count != 1 {
		t.Errorf("count requests = %d, want 1", count)
	}
	for _, r := range nodes[0].Requests() {
		if r.Params.Has("distrib") {
			t.Errorf("federated request carries distrib=%q", r.Distrib)
		}
	}
	for i, n := range nodes[1:] {
		if len(n.Requests()) != 0 {
			t.Errorf("node %d received %d requests, want 0", i+1, len(n.Requests()))
		}
	}
}

func TestClient_Local(t *testing.T) {
	nodes := threeNodes(t)
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal), esgf.WithPageSize(2))

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := titles(drain(t, it))
	want := []string{"tas_0.nc", "tas_1.nc", "tas_2.nc", "tas_3.nc", "tas_4.nc", "tas_5.nc"}
	if !slices.Equal(got, want) {
		t.Errorf("titles = %v, want %v", got, want)
	}

	for i, n := range nodes {
		count, _ := n.Counts()
		if count != 1 {
			t.Errorf("node %d count requests = %d, want 1", i, count)
		}
		for _, r := range n.Requests() {
			if r.Distrib != "false" {
				t.Errorf("node %d request distrib = %q, want false", i, r.Distrib)
			}
		}
	}
}

func TestClient_LocalKeepsDuplicates(t *testing.T) {
	docs := testutil.Docs(2)
	nodes := []*testutil.Node{testutil.NewNode(t, docs...), testutil.NewNode(t, docs...)}
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal))

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if n := len(drain(t, it)); n != 4 {
		t.Errorf("records = %d, want 4", n)
	}
}

func TestClient_LocalStopPerNode(t *testing.T) {
	nodes := threeNodes(t)
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal))

	it, err := c.Search(t.Context(), esgf.Query{}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := titles(drain(t, it))
	if want := []string{"tas_0.nc", "tas_2.nc", "tas_5.nc"}; !slices.Equal(got, want) {
		t.Errorf("titles = %v, want %v", got, want)
	}
}

func TestClient_LocalLazy(t *testing.T) {
	nodes := threeNodes(t)
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal))

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !it.Next() {
		t.Fatalf("Next = false: %v", it.Err())
	}
	_ = it.Close()

	if len(nodes[1].Requests()) != 0 || len(nodes[2].Requests()) != 0 {
		t.Error("later nodes queried before the first was drained")
	}
}

func TestClient_LocalParallelKeepsOrder(t *testing.T) {
	nodes := threeNodes(t)
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal), esgf.WithConcurrency(3))

	it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := titles(drain(t, it))
	want := []string{"tas_0.nc", "tas_1.nc", "tas_2.nc", "tas_3.nc", "tas_4.nc", "tas_5.nc"}
	if !slices.Equal(got, want) {
		t.Errorf("titles = %v, want %v", got, want)
	}
}

func TestClient_LocalParallelInflatedCount(t *testing.T) {
	nodes := []*testutil.Node{
		testutil.NewNode(t, testutil.Docs(1)...),
		testutil.NewNode(t, testutil.Docs(1)...),
	}
	nodes[0].SetFound(50_000_000)
	c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal), esgf.WithConcurrency(2))

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, esgf.ErrShortResult) {
		t.Errorf("error = %v, want ErrShortResult", err)
	}
	if delta := after.TotalAlloc - before.TotalAlloc; delta > 64<<20 {
		t.Errorf("search allocated %d MB for one served record", delta>>20)
	}
}

func TestClient_LocalNodeFailure(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		nodes := threeNodes(t)
		nodes[1].SetStatus(http.StatusBadGateway)
		c := newClient(t, nodes, esgf.WithMode(esgf.ModeLocal), esgf.WithConcurrency(concurrency))

		it, err := c.Search(t.Context(), esgf.Query{}, esgf.NoStop)
		if err == nil {
			for it.Next() {
			}
			err = it.Err()
			_ = it.Close()
		}
		var httpErr *esgf.HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
			t.Errorf("concurrency %d: error = %v, want 502 HTTPError", concurrency, err)
		}
	}
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []esgf.Option
	}{
		{"no endpoints", []esgf.Option{esgf.WithEndpoints()}},
		{"page size zero", []esgf.Option{esgf.WithPageSize(0)}},
		{"page size above cap", []esgf.Option{esgf.WithPageSize(esgf.MaxPageSize + 1)}},
		{"timeout", []esgf.Option{esgf.WithTimeout(-time.Second)}},
		{"concurrency", []esgf.Option{esgf.WithConcurrency(0)}},
		{"mode", []esgf.Option{esgf.WithMode(esgf.Mode(7))}},
	}
	for _, tt := range tests {
		if _, err := esgf.NewClient(tt.opts...); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := esgf.NewClient()
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.Mode() != esgf.ModeFederated {
		t.Errorf("Mode = %v, want federated", c.Mode())
	}
	eps := c.Endpoints()
	if len(eps) != len(esgf.DefaultIndexNodes) {
		t.Fatalf("endpoints = %d, want %d", len(eps), len(esgf.DefaultIndexNodes))
	}
	if eps[0] != "https://esgf-node.llnl.gov/esg-search/search" {
		t.Errorf("first endpoint = %q", eps[0])
	}
}
