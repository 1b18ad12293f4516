package cosmos

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Field aliases differ between tx_search, the REST tx service and older
// node versions. They are tried in order.
var (
	hashAliases   = []string{"hash", "txhash", "tx_hash"}
	heightAliases = []string{"height", "block_height"}
	resultAliases = []string{"tx_result", "result", "tx_response"}

	messageAliases = []string{"body.messages", "value.msg", "msg"}
	memoAliases    = []string{"body.memo", "value.memo", "memo"}
	feeAliases     = []string{"auth_info.fee", "value.fee", "fee"}
)

var printableASCII = regexp.MustCompile(`^[\x20-\x7E]+$`)

// AttributeEncoding declares how a source encodes event attribute keys and
// values.
type AttributeEncoding string

const (
	// EncodingAuto guesses per attribute. Older Tendermint versions base64
	// encode attributes while CometBFT returns them in plain text.
	EncodingAuto AttributeEncoding = "auto"
	// EncodingBase64 always decodes attributes.
	EncodingBase64 AttributeEncoding = "base64"
	// EncodingPlain never decodes attributes.
	EncodingPlain AttributeEncoding = "plain"
)

// ParseAttributeEncoding validates an encoding name. An empty string means
// EncodingAuto.
func ParseAttributeEncoding(s string) (AttributeEncoding, error) {
	switch AttributeEncoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingAuto:
		return EncodingAuto, nil
	case EncodingBase64:
		return EncodingBase64, nil
	case EncodingPlain:
		return EncodingPlain, nil
	default:
		return "", fmt.Errorf("unknown attribute encoding %q (must be auto, base64 or plain)", s)
	}
}

// Decoder turns raw indexer records into canonical transactions.
type Decoder struct {
	encoding AttributeEncoding
}

// NewDecoder returns a decoder for sources using the given attribute encoding.
func NewDecoder(encoding AttributeEncoding) *Decoder {
	if encoding == "" {
		encoding = EncodingAuto
	}
	return &Decoder{encoding: encoding}
}

// RecordHash returns the transaction hash of a raw record, or "" if none of
// the known hash fields is present.
func RecordHash(raw RawRecord) string {
	root := gjson.ParseBytes(raw)
	if h := firstString(root, hashAliases...); h != "" {
		return h
	}
	return firstString(resultOf(root), hashAliases...)
}

// Decode never fails. Anything it cannot decode is left in raw form and noted
// in DecodeIssues.
func (d *Decoder) Decode(raw RawRecord) *Transaction {
	if !gjson.ValidBytes(raw) {
		tx := newTransaction("", 0, 0)
		tx.RawTx = string(raw)
		tx.DecodeIssues = append(tx.DecodeIssues, "record: invalid JSON")
		return tx
	}

	root := gjson.ParseBytes(raw)
	result := resultOf(root)

	hash := firstString(root, hashAliases...)
	if hash == "" {
		hash = firstString(result, hashAliases...)
	}
	height := firstExisting(root, heightAliases...)
	if !height.Exists() {
		height = firstExisting(result, heightAliases...)
	}

	tx := newTransaction(hash, height.Int(), uint32(result.Get("code").Uint()))
	tx.Codespace = result.Get("codespace").String()
	tx.GasWanted = result.Get("gas_wanted").Int()
	tx.GasUsed = result.Get("gas_used").Int()

	if doc, ok := d.decodePayload(tx, root.Get("tx")); ok {
		d.readBody(tx, doc)
	}

	tx.Events = d.decodeEvents(result)
	tx.Timestamp = timestampOf(tx.Events, root, result)

	return tx
}

// decodePayload resolves the tx field into a JSON document. A string payload
// is base64 decoded first.
func (d *Decoder) decodePayload(tx *Transaction, payload gjson.Result) (gjson.Result, bool) {
	switch {
	case !payload.Exists():
		return gjson.Result{}, false
	case payload.IsObject():
		return payload, true
	case payload.Type == gjson.String:
		decoded, err := base64.StdEncoding.DecodeString(payload.String())
		if err != nil {
			tx.RawTx = payload.String()
			tx.DecodeIssues = append(tx.DecodeIssues, "tx: not base64")
			return gjson.Result{}, false
		}
		if !gjson.ValidBytes(decoded) || !gjson.ParseBytes(decoded).IsObject() {
			tx.RawTx = payload.String()
			tx.DecodeIssues = append(tx.DecodeIssues, "tx: payload is not JSON")
			return gjson.Result{}, false
		}
		return gjson.ParseBytes(decoded), true
	default:
		tx.RawTx = payload.Value()
		tx.DecodeIssues = append(tx.DecodeIssues, "tx: unexpected payload type")
		return gjson.Result{}, false
	}
}

func (d *Decoder) readBody(tx *Transaction, doc gjson.Result) {
	for _, m := range firstExisting(doc, messageAliases...).Array() {
		msg, err := decodeMessage(m)
		if err != nil {
			tx.DecodeIssues = append(tx.DecodeIssues, fmt.Sprintf("message: %v", err))
		}
		tx.Messages = append(tx.Messages, msg)
	}

	tx.Memo = firstString(doc, memoAliases...)

	if fee := firstExisting(doc, feeAliases...); fee.IsObject() {
		f, err := decodeFee(fee)
		if err != nil {
			tx.DecodeIssues = append(tx.DecodeIssues, fmt.Sprintf("fee: %v", err))
		} else {
			tx.Fee = f
		}
	}
}

func decodeMessage(r gjson.Result) (Message, error) {
	body := map[string]any{}
	if err := jsonAPI.Unmarshal([]byte(r.Raw), &body); err != nil || body == nil {
		return Message{Kind: MessageKindUnknown, Body: map[string]any{"raw": r.Raw}}, fmt.Errorf("not an object")
	}

	var typ string
	if t, ok := body["@type"].(string); ok {
		typ = t
		delete(body, "@type")
	} else if t, ok := body["type"].(string); ok {
		// legacy amino JSON: {"type": "cosmos-sdk/MsgSend", "value": {...}}
		if v, ok := body["value"].(map[string]any); ok {
			typ = t
			body = v
		}
	}

	return Message{Type: typ, Kind: ClassifyMessage(typ), Body: body}, nil
}

type feeJSON struct {
	Amount   []Coin `json:"amount"`
	GasLimit string `json:"gas_limit"`
	Gas      string `json:"gas"`
	Payer    string `json:"payer"`
	Granter  string `json:"granter"`
}

func decodeFee(r gjson.Result) (*Fee, error) {
	var f feeJSON
	if err := jsonAPI.Unmarshal([]byte(r.Raw), &f); err != nil {
		return nil, err
	}
	fee := &Fee{
		Amount:   f.Amount,
		GasLimit: f.GasLimit,
		Payer:    f.Payer,
		Granter:  f.Granter,
	}
	if fee.GasLimit == "" {
		fee.GasLimit = f.Gas
	}
	if fee.Amount == nil {
		fee.Amount = []Coin{}
	}
	return fee, nil
}

func (d *Decoder) decodeEvents(result gjson.Result) []Event {
	raw := result.Get("events").Array()
	if len(raw) == 0 {
		for _, l := range result.Get("logs").Array() {
			raw = append(raw, l.Get("events").Array()...)
		}
	}

	events := make([]Event, 0, len(raw))
	for _, e := range raw {
		ev := Event{
			Type:       e.Get("type").String(),
			Attributes: []Attribute{},
		}
		for _, a := range e.Get("attributes").Array() {
			key, value := d.decodeAttribute(a.Get("key").String(), a.Get("value").String())
			attr := Attribute{Key: key, Value: value}
			if idx := a.Get("index"); idx.Exists() {
				b := idx.Bool()
				attr.Index = &b
			}
			ev.Attributes = append(ev.Attributes, attr)
		}
		events = append(events, ev)
	}
	return events
}

func (d *Decoder) decodeAttribute(key, value string) (string, string) {
	switch d.encoding {
	case EncodingPlain:
		return key, value
	case EncodingBase64:
		k, kerr := base64.StdEncoding.DecodeString(key)
		v, verr := base64.StdEncoding.DecodeString(value)
		if kerr != nil || verr != nil {
			return key, value
		}
		return string(k), string(v)
	}

	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return key, value
	}
	k, err := base64.StdEncoding.DecodeString(key)
	if err != nil || !printableASCII.Match(k) {
		return key, value
	}
	v, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return key, value
	}
	return string(k), string(v)
}

func timestampOf(events []Event, root, result gjson.Result) *string {
	for _, e := range events {
		if e.Type != "tx" {
			continue
		}
		for _, a := range e.Attributes {
			if a.Key == "timestamp" {
				ts := a.Value
				return &ts
			}
		}
	}
	for _, r := range []gjson.Result{root, result} {
		if ts := r.Get("timestamp").String(); ts != "" {
			return &ts
		}
	}
	return nil
}

func resultOf(root gjson.Result) gjson.Result {
	for _, alias := range resultAliases {
		if r := root.Get(alias); r.IsObject() {
			return r
		}
	}
	return root
}

func firstExisting(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(r gjson.Result, paths ...string) string {
	return firstExisting(r, paths...).String()
}
