package txsearch

import (
	"strconv"
	"strings"
)

// Operator is a comparison supported by the event query language.
type Operator string

const (
	OpEqual        Operator = "="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpContains     Operator = "CONTAINS"
	OpExists       Operator = "EXISTS"
)

// Condition is a single clause of an event query, e.g. message.sender='addr'.
type Condition struct {
	Key     string
	Op      Operator
	Value   string
	Numeric bool
}

// Eq matches events whose attribute equals value.
func Eq(key, value string) Condition {
	return Condition{Key: key, Op: OpEqual, Value: value}
}

// Contains matches events whose attribute contains value.
func Contains(key, value string) Condition {
	return Condition{Key: key, Op: OpContains, Value: value}
}

// Exists matches events that carry the attribute at all.
func Exists(key string) Condition {
	return Condition{Key: key, Op: OpExists}
}

// Compare builds a numeric comparison such as tx.height>=100.
func Compare(key string, op Operator, n int64) Condition {
	return Condition{Key: key, Op: op, Value: strconv.FormatInt(n, 10), Numeric: true}
}

// String renders the condition in the indexer's query syntax. String values
// are single quoted.
func (c Condition) String() string {
	switch c.Op {
	case OpExists:
		return c.Key + " EXISTS"
	case OpContains:
		return c.Key + " CONTAINS " + quote(c.Value)
	}
	if c.Numeric {
		return c.Key + string(c.Op) + c.Value
	}
	return c.Key + string(c.Op) + quote(c.Value)
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

// QuerySpec is one AND-only query. It is immutable once built.
type QuerySpec struct {
	name       string
	conditions []Condition
}

// NewQuerySpec builds a spec. name identifies the angle in results and logs.
func NewQuerySpec(name string, conds ...Condition) QuerySpec {
	c := make([]Condition, len(conds))
	copy(c, conds)
	return QuerySpec{name: name, conditions: c}
}

// Name is the angle the query covers.
func (q QuerySpec) Name() string { return q.name }

// Conditions returns a copy of the query's conditions.
func (q QuerySpec) Conditions() []Condition {
	c := make([]Condition, len(q.conditions))
	copy(c, q.conditions)
	return c
}

// With returns a new spec with extra conditions appended.
func (q QuerySpec) With(conds ...Condition) QuerySpec {
	return NewQuerySpec(q.name, append(q.Conditions(), conds...)...)
}

// String joins the conditions with AND. The query language has no OR.
func (q QuerySpec) String() string {
	parts := make([]string, len(q.conditions))
	for i, c := range q.conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}
