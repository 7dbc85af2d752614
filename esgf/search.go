package esgf

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PageWindow is the cursor state of a Pager.
type PageWindow struct {
	// Offset is the offset of the next request, equal to the records emitted.
	Offset int

	// Limit is the page size, at most MaxPageSize.
	Limit int

	// Remaining is the number of records still to be emitted.
	Remaining int
}

// Pager yields the records of one query against one index node.
//
// Search issues a count request first; Pager then requests pages of at most
// Limit records, starting at offset 0, until Total records have been
// emitted. A page is requested only once the previous one is drained.
type Pager struct {
	ctx     context.Context
	session *Session
	query   Query

	found int64
	total int
	limit int

	offset int // records emitted so far; offset of the next request
	page   []Record
	pos    int
	cur    Record

	err    error
	closed bool
}

// Search runs the count phase of q against the session's index node and
// returns a pager over the result. With stop >= 0 the pager yields at most
// stop records. Closing the pager closes the session.
func (s *Session) Search(ctx context.Context, q Query, stop int) (*Pager, error) {
	found, err := s.count(ctx, q)
	if err != nil {
		return nil, err
	}

	total := int(found)
	if stop >= 0 && stop < total {
		total = stop
	}
	limit := min(s.cfg.pageSize, total)

	p := &Pager{
		ctx:     ctx,
		session: s,
		query:   q,
		found:   found,
		total:   total,
		limit:   limit,
	}
	if total == 0 {
		p.release()
	}
	return p, nil
}

// Found returns the numFound reported by the count request.
func (p *Pager) Found() int64 {
	return p.found
}

// Total returns the number of records the pager will emit.
func (p *Pager) Total() int {
	return p.total
}

// Window returns the current cursor state.
func (p *Pager) Window() PageWindow {
	return PageWindow{Offset: p.offset, Limit: p.limit, Remaining: p.total - p.offset}
}

// Next advances to the next record, fetching a page when needed.
func (p *Pager) Next() bool {
	if p.err != nil || p.offset >= p.total {
		p.release()
		return false
	}
	if p.pos >= len(p.page) {
		if err := p.ctx.Err(); err != nil {
			p.fail(err)
			return false
		}
		limit := min(p.limit, p.total-p.offset)
		docs, err := p.session.page(p.ctx, p.query, p.offset, limit)
		if err != nil {
			p.fail(err)
			return false
		}
		if len(docs) == 0 {
			p.fail(fmt.Errorf("%w: %s served %d of %d records",
				ErrShortResult, p.session.endpoint, p.offset, p.total))
			return false
		}
		p.page, p.pos = docs, 0
	}

	p.cur = p.page[p.pos]
	p.page[p.pos] = Record{}
	p.pos++
	p.offset++
	return true
}

// Record returns the current record.
func (p *Pager) Record() Record {
	return p.cur
}

// Err returns the error that ended iteration.
func (p *Pager) Err() error {
	return p.err
}

// Close releases the session. Safe to call more than once.
func (p *Pager) Close() error {
	p.release()
	return nil
}

func (p *Pager) fail(err error) {
	p.err = err
	p.session.cfg.logger.Debug("search aborted",
		zap.String("endpoint", string(p.session.endpoint)),
		zap.Int("offset", p.offset),
		zap.Error(err))
	p.release()
}

func (p *Pager) release() {
	if p.closed {
		return
	}
	p.closed = true
	p.page = nil
	_ = p.session.Close()
}

var _ RecordIterator = (*Pager)(nil)
