package txsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Order is the result ordering requested from the service.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder validates an ordering name.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case OrderAsc:
		return OrderAsc, nil
	case OrderDesc, "":
		return OrderDesc, nil
	default:
		return "", fmt.Errorf("invalid order %q (must be asc or desc)", s)
	}
}

// Cursor is the pagination position within one query.
type Cursor struct {
	Page    int
	PerPage int
	Order   Order
	// Key is the opaque continuation token of cursor paginated sources.
	Key string
}

// Next advances to the following page.
func (c Cursor) Next(nextKey string) Cursor {
	return Cursor{Page: c.Page + 1, PerPage: c.PerPage, Order: c.Order, Key: nextKey}
}

// Source fetches single pages of a query from an indexing service.
type Source interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// FetchPage returns one normalized page. Errors are *NetworkError,
	// *ServiceError or *EnvelopeShapeError.
	FetchPage(ctx context.Context, spec QuerySpec, cursor Cursor) (Page, error)
}

// maxBodySize bounds a single page response.
const maxBodySize = 64 << 20

type httpGetter struct {
	client *http.Client
}

func newHTTPGetter(client *http.Client) httpGetter {
	if client == nil {
		client = &http.Client{}
	}
	return httpGetter{client: client}
}

func (g httpGetter) get(ctx context.Context, rawURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Page{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Page{}, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	page, err := Normalize(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Tendermint reports query errors as HTTP 500 with a JSON-RPC
		// error body. Those are service errors, anything else is transport.
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			return Page{}, svcErr
		}
		return Page{}, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", snippet(body))}
	}
	return page, err
}

// RPCSource queries the Tendermint/CometBFT tx_search endpoint.
type RPCSource struct {
	baseURL string
	getter  httpGetter
}

// NewRPCSource returns a source for the RPC server at baseURL
// (e.g. https://rpc.cosmos.network:443). A nil client uses a default one.
func NewRPCSource(baseURL string, client *http.Client) *RPCSource {
	return &RPCSource{
		baseURL: strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/tx_search"),
		getter:  newHTTPGetter(client),
	}
}

func (s *RPCSource) Name() string { return "rpc" }

// URL builds the tx_search request for one page. The whole expression is
// wrapped in double quotes.
func (s *RPCSource) URL(spec QuerySpec, cursor Cursor) string {
	var b strings.Builder
	b.WriteString(s.baseURL)
	b.WriteString("/tx_search?query=")
	b.WriteString(url.QueryEscape(`"` + spec.String() + `"`))
	b.WriteString("&prove=false&page=")
	b.WriteString(strconv.Itoa(cursor.Page))
	b.WriteString("&per_page=")
	b.WriteString(strconv.Itoa(cursor.PerPage))
	b.WriteString("&order_by=")
	b.WriteString(url.QueryEscape(`"` + string(cursor.Order) + `"`))
	return b.String()
}

func (s *RPCSource) FetchPage(ctx context.Context, spec QuerySpec, cursor Cursor) (Page, error) {
	return s.getter.get(ctx, s.URL(spec, cursor))
}

// RESTSource queries the cosmos tx service GetTxsEvent endpoint.
type RESTSource struct {
	baseURL string
	getter  httpGetter
}

// NewRESTSource returns a source for the REST (LCD) server at baseURL.
func NewRESTSource(baseURL string, client *http.Client) *RESTSource {
	return &RESTSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		getter:  newHTTPGetter(client),
	}
}

func (s *RESTSource) Name() string { return "rest" }

// URL builds the request for one page. Each condition is sent as its own
// events parameter and the service ANDs them.
func (s *RESTSource) URL(spec QuerySpec, cursor Cursor) string {
	q := url.Values{}
	for _, c := range spec.Conditions() {
		q.Add("events", c.String())
	}
	q.Set("pagination.limit", strconv.Itoa(cursor.PerPage))
	if cursor.Key != "" {
		q.Set("pagination.key", cursor.Key)
	}
	if cursor.Order == OrderAsc {
		q.Set("order_by", "ORDER_BY_ASC")
	} else {
		q.Set("order_by", "ORDER_BY_DESC")
	}
	return s.baseURL + "/cosmos/tx/v1beta1/txs?" + q.Encode()
}

func (s *RESTSource) FetchPage(ctx context.Context, spec QuerySpec, cursor Cursor) (Page, error) {
	return s.getter.get(ctx, s.URL(spec, cursor))
}

// NewSource returns the source for backend ("rpc" or "rest").
func NewSource(backend, baseURL string, client *http.Client) (Source, error) {
	switch backend {
	case "rpc", "":
		return NewRPCSource(baseURL, client), nil
	case "rest":
		return NewRESTSource(baseURL, client), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (must be rpc or rest)", backend)
	}
}
