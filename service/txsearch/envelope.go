package txsearch

import (
	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/tidwall/gjson"
)

// Envelope is the classified shape of one service response. The concrete
// types are WrappedEnvelope, UnwrappedEnvelope, RESTEnvelope, ErrorEnvelope
// and UnknownEnvelope.
type Envelope interface {
	envelope()
}

// WrappedEnvelope is the JSON-RPC form {"result": {"txs": [...], "total_count": "n"}}.
type WrappedEnvelope struct {
	Records  []cosmos.RawRecord
	Total    int
	HasTotal bool
}

// UnwrappedEnvelope is {"txs": [...], "total_count": "n"} without a result key.
type UnwrappedEnvelope struct {
	Records  []cosmos.RawRecord
	Total    int
	HasTotal bool
}

// RESTEnvelope is the cosmos tx service form {"tx_responses": [...], "pagination": {...}}.
type RESTEnvelope struct {
	Records  []cosmos.RawRecord
	NextKey  string
	Total    int
	HasTotal bool
}

// ErrorEnvelope carries a structured error reported by the service.
type ErrorEnvelope struct {
	Err *ServiceError
}

// UnknownEnvelope matched none of the known shapes.
type UnknownEnvelope struct {
	Snippet string
}

func (WrappedEnvelope) envelope()   {}
func (UnwrappedEnvelope) envelope() {}
func (RESTEnvelope) envelope()      {}
func (ErrorEnvelope) envelope()     {}
func (UnknownEnvelope) envelope()   {}

// Page is the canonical result of one page request.
type Page struct {
	Records  []cosmos.RawRecord
	Total    int
	HasTotal bool
	// KeyPaged is set for cursor paginated sources. NextKey is empty on the
	// last page.
	KeyPaged bool
	NextKey  string
}

const snippetLen = 120

// Classify decides which envelope body is. It is the only place that inspects
// response keys.
func Classify(body []byte) Envelope {
	if !gjson.ValidBytes(body) {
		return UnknownEnvelope{Snippet: snippet(body)}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return UnknownEnvelope{Snippet: snippet(body)}
	}

	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		if e.IsObject() {
			return ErrorEnvelope{Err: newServiceError(e.Get("code").Int(), e.Get("message").String(), e.Get("data").String())}
		}
		return ErrorEnvelope{Err: newServiceError(0, e.String(), "")}
	}

	if txs := root.Get("tx_responses"); txs.Exists() {
		total := root.Get("pagination.total")
		return RESTEnvelope{
			Records:  records(txs),
			NextKey:  root.Get("pagination.next_key").String(),
			Total:    int(total.Int()),
			HasTotal: total.Exists() && total.String() != "" && total.Int() > 0,
		}
	}

	// grpc-gateway errors: {"code": 3, "message": "...", "details": []}
	if code := root.Get("code"); code.Int() != 0 && root.Get("message").Exists() {
		return ErrorEnvelope{Err: newServiceError(code.Int(), root.Get("message").String(), root.Get("details").Raw)}
	}

	if r := root.Get("result"); r.IsObject() && r.Get("txs").Exists() {
		total := r.Get("total_count")
		return WrappedEnvelope{Records: records(r.Get("txs")), Total: int(total.Int()), HasTotal: total.Exists()}
	}

	if txs := root.Get("txs"); txs.Exists() {
		total := root.Get("total_count")
		return UnwrappedEnvelope{Records: records(txs), Total: int(total.Int()), HasTotal: total.Exists()}
	}

	return UnknownEnvelope{Snippet: snippet(body)}
}

// Normalize classifies body and converts it into a Page. Error envelopes
// return a *ServiceError and unknown envelopes an *EnvelopeShapeError, both
// with an empty page.
func Normalize(body []byte) (Page, error) {
	switch env := Classify(body).(type) {
	case WrappedEnvelope:
		return Page{Records: env.Records, Total: env.Total, HasTotal: env.HasTotal}, nil
	case UnwrappedEnvelope:
		return Page{Records: env.Records, Total: env.Total, HasTotal: env.HasTotal}, nil
	case RESTEnvelope:
		return Page{Records: env.Records, Total: env.Total, HasTotal: env.HasTotal, KeyPaged: true, NextKey: env.NextKey}, nil
	case ErrorEnvelope:
		return Page{}, env.Err
	case UnknownEnvelope:
		return Page{}, &EnvelopeShapeError{Snippet: env.Snippet}
	default:
		return Page{}, &EnvelopeShapeError{Snippet: snippet(body)}
	}
}

func records(arr gjson.Result) []cosmos.RawRecord {
	items := arr.Array()
	out := make([]cosmos.RawRecord, 0, len(items))
	for _, item := range items {
		out = append(out, cosmos.RawRecord(item.Raw))
	}
	return out
}

func snippet(body []byte) string {
	if len(body) > snippetLen {
		return string(body[:snippetLen]) + "..."
	}
	return string(body)
}
