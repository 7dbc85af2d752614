// Package testutil provides a fake ESGF index node for tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

// nodeJSON encodes fake responses with sorted map keys.
var nodeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// searchPath mirrors the handler path of real index nodes.
const searchPath = "/esg-search/search"

// Doc is one search document served by a Node.
type Doc = map[string]any

// Request is a search request received by a Node.
type Request struct {
	Params  url.Values
	Limit   int
	Offset  int
	Distrib string
}

// IsCount reports whether r is a count request (limit=0).
func (r Request) IsCount() bool { return r.Limit == 0 }

// Node is a fake index node serving Solr JSON envelopes over HTTP.
//
// It honours limit and offset against its documents and records every
// request. Requests without distrib=false are answered from Federated when
// it is set, so federated and local searches can return different data.
type Node struct {
	Server *httptest.Server

	mu        sync.Mutex
	docs      []Doc
	federated []Doc
	requests  []Request

	// found overrides numFound when non-negative.
	found int64

	// status overrides the response status when non-zero.
	status int

	// raw overrides the response body when non-empty.
	raw string
}

// NewNode starts a fake node serving docs. It is closed with t.
func NewNode(t testing.TB, docs ...Doc) *Node {
	t.Helper()
	n := &Node{docs: docs, found: -1}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Server.Close)
	return n
}

// URL returns the node's search endpoint.
func (n *Node) URL() string { return n.Server.URL + searchPath }

// Host returns a base URL suitable as a configured index node.
func (n *Node) Host() string { return n.Server.URL }

// SetFederated sets the documents answered to distributed searches.
func (n *Node) SetFederated(docs ...Doc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.federated = docs
}

// SetFound makes the node report found instead of its document count.
func (n *Node) SetFound(found int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.found = found
}

// SetStatus makes every response fail with status.
func (n *Node) SetStatus(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

// SetRaw makes every response carry body verbatim.
func (n *Node) SetRaw(body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.raw = body
}

// Requests returns the recorded requests in arrival order.
func (n *Node) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Request(nil), n.requests...)
}

// Counts returns how many count and page requests were received.
func (n *Node) Counts() (count, page int) {
	for _, r := range n.Requests() {
		if r.IsCount() {
			count++
		} else {
			page++
		}
	}
	return count, page
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != searchPath {
		http.NotFound(w, r)
		return
	}

	params := r.URL.Query()
	req := Request{
		Params:  params,
		Limit:   atoi(params.Get("limit")),
		Offset:  atoi(params.Get("offset")),
		Distrib: params.Get("distrib"),
	}

	n.mu.Lock()
	n.requests = append(n.requests, req)
	docs := n.docs
	if req.Distrib != "false" && n.federated != nil {
		docs = n.federated
	}
	found, status, raw := n.found, n.status, n.raw
	n.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if raw != "" {
		_, _ = w.Write([]byte(raw))
		return
	}
	if found < 0 {
		found = int64(len(docs))
	}

	page := []Doc{}
	if req.Offset < len(docs) {
		end := min(req.Offset+req.Limit, len(docs))
		page = docs[req.Offset:end]
	}

	body := map[string]any{
		"responseHeader": map[string]any{"status": 0},
		"response": map[string]any{
			"numFound": found,
			"start":    req.Offset,
			"docs":     page,
		},
	}
	_ = nodeJSON.NewEncoder(w).Encode(body)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Docs builds n file documents for dataset "proj.model.exp", numbered from 0.
func Docs(n int) []Doc {
	docs := make([]Doc, n)
	for i := range docs {
		title := "tas_" + strconv.Itoa(i) + ".nc"
		docs[i] = Doc{
			"id":            "proj.model.exp." + title + "|node",
			"instance_id":   "proj.model.exp." + title,
			"title":         title,
			"project":       []any{"proj"},
			"size":          i,
			"checksum":      []any{"c" + strconv.Itoa(i)},
			"checksum_type": []any{"SHA256"},
			"url": []any{
				"http://data/" + title + "|application/netcdf|HTTPServer",
				"gsiftp://data/" + title + "|application/gridftp|GridFTP",
			},
		}
	}
	return docs
}
