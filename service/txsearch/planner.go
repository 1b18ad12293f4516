package txsearch

import (
	"fmt"
	"sort"
	"strings"
)

// Angle is one way an account can be involved in a transaction, expressed as
// the event attribute that names it.
type Angle struct {
	Name     string `json:"name"`
	Group    string `json:"group"`
	EventKey string `json:"event_key"`
}

// Angle groups.
const (
	GroupCore       = "core"
	GroupIBC        = "ibc"
	GroupStaking    = "staking"
	GroupGovernance = "governance"
)

var catalogue = []Angle{
	{Name: "message-sender", Group: GroupCore, EventKey: "message.sender"},
	{Name: "transfer-recipient", Group: GroupCore, EventKey: "transfer.recipient"},
	{Name: "transfer-sender", Group: GroupCore, EventKey: "transfer.sender"},
	{Name: "coin-received", Group: GroupCore, EventKey: "coin_received.receiver"},
	{Name: "coin-spent", Group: GroupCore, EventKey: "coin_spent.spender"},

	{Name: "ibc-packet-receiver", Group: GroupIBC, EventKey: "fungible_token_packet.receiver"},
	{Name: "ibc-transfer-sender", Group: GroupIBC, EventKey: "ibc_transfer.sender"},

	{Name: "delegate-delegator", Group: GroupStaking, EventKey: "delegate.delegator"},
	{Name: "withdraw-rewards-delegator", Group: GroupStaking, EventKey: "withdraw_rewards.delegator"},

	{Name: "proposal-depositor", Group: GroupGovernance, EventKey: "proposal_deposit.depositor"},
	{Name: "proposal-voter", Group: GroupGovernance, EventKey: "proposal_vote.voter"},
}

// Catalogue returns every known angle.
func Catalogue() []Angle {
	out := make([]Angle, len(catalogue))
	copy(out, catalogue)
	return out
}

// DefaultAngles is the core group.
func DefaultAngles() []Angle {
	angles, _ := AnglesFor(GroupCore)
	return angles
}

// AnglesFor returns the angles of the named groups in catalogue order.
// Individual angle names are accepted as well as group names.
func AnglesFor(names ...string) ([]Angle, error) {
	want := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			want[n] = true
		}
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("no angle groups given")
	}

	matched := map[string]bool{}
	var angles []Angle
	for _, a := range catalogue {
		if want[a.Group] || want[a.Name] {
			angles = append(angles, a)
			matched[a.Group] = true
			matched[a.Name] = true
		}
	}

	var unknown []string
	for n := range want {
		if !matched[n] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown angles: %s", strings.Join(unknown, ", "))
	}
	return angles, nil
}

// Planner turns an account into the set of queries that together cover all
// of its transactions.
type Planner struct {
	angles []Angle
	base   []Condition
}

// NewPlanner returns a planner over angles, or DefaultAngles if none given.
func NewPlanner(angles ...Angle) *Planner {
	if len(angles) == 0 {
		angles = DefaultAngles()
	}
	a := make([]Angle, len(angles))
	copy(a, angles)
	return &Planner{angles: a}
}

// WithBaseConditions returns a planner that appends conds to every spec.
func (p *Planner) WithBaseConditions(conds ...Condition) *Planner {
	base := append(append([]Condition{}, p.base...), conds...)
	return &Planner{angles: p.angles, base: base}
}

// WithHeightRange restricts every spec to a block range. Zero bounds are
// open.
func (p *Planner) WithHeightRange(min, max int64) *Planner {
	var conds []Condition
	if min > 0 {
		conds = append(conds, Compare("tx.height", OpGreaterEqual, min))
	}
	if max > 0 {
		conds = append(conds, Compare("tx.height", OpLessEqual, max))
	}
	return p.WithBaseConditions(conds...)
}

// Angles returns the planner's angles.
func (p *Planner) Angles() []Angle {
	out := make([]Angle, len(p.angles))
	copy(out, p.angles)
	return out
}

// Plan returns one spec per angle, in angle order. It performs no I/O.
func (p *Planner) Plan(account string) []QuerySpec {
	specs := make([]QuerySpec, 0, len(p.angles))
	for _, a := range p.angles {
		conds := append([]Condition{Eq(a.EventKey, account)}, p.base...)
		specs = append(specs, NewQuerySpec(a.Name, conds...))
	}
	return specs
}
