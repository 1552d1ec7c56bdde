package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
)

// ErrExhausted is returned by Pager.Next once the collection has no more pages.
var ErrExhausted = errors.New("pagination exhausted")

// Caller is the authenticated call primitive a Pager fetches through.
type Caller interface {
	Call(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error)
}

// Cursor is the opaque continuation of a paginated collection. The empty
// cursor addresses the first page.
type Cursor string

type pageEnvelope[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// Pager lazily walks a cursor-paginated Graph collection, one page per Next
// call. A failed Next leaves the cursor in place so the same page can be
// requested again.
type Pager[T any] struct {
	caller   Caller
	endpoint string
	params   url.Values
	pageSize int

	cursor Cursor
	done   bool
	pages  int
}

func NewPager[T any](caller Caller, endpoint string, params url.Values) *Pager[T] {
	return &Pager[T]{
		caller:   caller,
		endpoint: endpoint,
		params:   cloneValues(params),
	}
}

// SetPageSize sets the limit requested for subsequent pages; n <= 0 leaves
// the provider default.
func (p *Pager[T]) SetPageSize(n int) {
	p.pageSize = n
}

// More reports whether another page may exist.
func (p *Pager[T]) More() bool {
	return !p.done
}

func (p *Pager[T]) Pages() int {
	return p.pages
}

func (p *Pager[T]) Cursor() Cursor {
	return p.cursor
}

// Reset restarts the walk from the first page.
func (p *Pager[T]) Reset() {
	p.cursor = ""
	p.done = false
	p.pages = 0
}

// Next fetches the page at the current cursor and advances. It returns
// ErrExhausted when called after the last page.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.done {
		return nil, ErrExhausted
	}

	params := cloneValues(p.params)
	if p.cursor != "" {
		cur, err := url.ParseQuery(string(p.cursor))
		if err == nil {
			for k, vs := range cur {
				params[k] = vs
			}
		}
	}
	if p.pageSize > 0 {
		params.Set("limit", strconv.Itoa(p.pageSize))
	}

	raw, err := p.caller.Call(ctx, p.endpoint, params)
	if err != nil {
		return nil, err
	}

	var page pageEnvelope[T]
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, &Error{Kind: KindRequest, Endpoint: p.endpoint, Message: "decode page", Err: err}
	}

	p.pages++
	next := nextCursor(page.Paging.Next, page.Paging.Cursors.After)
	if next == "" || len(page.Data) == 0 {
		p.done = true
	} else {
		p.cursor = next
	}

	return page.Data, nil
}

// nextCursor derives the continuation from paging.next. An absent next link
// means the collection is exhausted, whatever the cursors say.
func nextCursor(next, after string) Cursor {
	if next == "" {
		return ""
	}

	u, err := url.Parse(next)
	if err != nil {
		if after == "" {
			return ""
		}
		return Cursor(url.Values{"after": {after}}.Encode())
	}

	q := u.Query()
	q.Del("access_token")
	q.Del("appsecret_proof")
	q.Del("limit")
	if len(q) == 0 && after != "" {
		q.Set("after", after)
	}
	if len(q) == 0 {
		return ""
	}
	return Cursor(q.Encode())
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
