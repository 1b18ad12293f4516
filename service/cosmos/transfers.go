package cosmos

import "strings"

// messageTags maps substrings of a normalized message type to a kind.
// Order matters: "msgmultisend" must be tested before "msgsend".
var messageTags = []struct {
	tag  string
	kind MessageKind
}{
	{"msgmultisend", MessageKindMultiSend},
	{"msgsend", MessageKindBankSend},
	{"msgtransfer", MessageKindIBCTransfer},
}

// ClassifyMessage maps a message type URL or amino name to a MessageKind.
// Unrecognized types are MessageKindUnknown.
func ClassifyMessage(typ string) MessageKind {
	normalized := strings.ToLower(strings.TrimPrefix(typ, "/"))
	if normalized == "" {
		return MessageKindUnknown
	}
	for _, t := range messageTags {
		if strings.Contains(normalized, t.tag) {
			return t.kind
		}
	}
	return MessageKindUnknown
}

type messageHandler func(msg Message, target string) []Transfer

var messageHandlers = map[MessageKind]messageHandler{
	MessageKindBankSend:    bankSendTransfers,
	MessageKindIBCTransfer: ibcTransfers,
	MessageKindMultiSend:   multisendTransfers,
}

// ExtractTransfers returns the transfers in tx relative to target. Message
// derived transfers come first, in message order, followed by event derived
// transfers in event order.
func ExtractTransfers(tx *Transaction, target string) []Transfer {
	transfers := []Transfer{}
	for _, msg := range tx.Messages {
		handler, ok := messageHandlers[msg.Kind]
		if !ok {
			continue
		}
		transfers = append(transfers, handler(msg, target)...)
	}
	fromMessages := len(transfers)

	for _, ev := range tx.Events {
		switch ev.Type {
		case "transfer":
			for _, g := range groupAttributes(ev.Attributes) {
				amount, ok := g["amount"]
				if !ok {
					continue
				}
				sender, hasSender := g["sender"]
				recipient, hasRecipient := g["recipient"]
				if !hasSender && !hasRecipient {
					continue
				}
				t := newTransfer(TransferEvent, orUnknown(sender), orUnknown(recipient), ParseAmount(amount), target)
				if containsMovement(transfers[:fromMessages], t) {
					continue
				}
				transfers = append(transfers, t)
			}
		case "coin_spent":
			for _, g := range groupAttributes(ev.Attributes) {
				if g["spender"] != target {
					continue
				}
				transfers = append(transfers, Transfer{
					Kind:      TransferCoinSpent,
					From:      target,
					To:        UnknownParty,
					Amount:    ParseAmount(g["amount"]),
					Direction: DirectionSent,
				})
			}
		case "coin_received":
			for _, g := range groupAttributes(ev.Attributes) {
				if g["receiver"] != target {
					continue
				}
				transfers = append(transfers, Transfer{
					Kind:      TransferCoinReceived,
					From:      UnknownParty,
					To:        target,
					Amount:    ParseAmount(g["amount"]),
					Direction: DirectionReceived,
				})
			}
		}
	}
	return transfers
}

// ClassifyDirection reports the direction of a from->to movement relative to
// target.
func ClassifyDirection(from, to, target string) Direction {
	switch target {
	case from:
		return DirectionSent
	case to:
		return DirectionReceived
	default:
		return DirectionRelated
	}
}

func newTransfer(kind TransferKind, from, to string, amount []Coin, target string) Transfer {
	return Transfer{
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Direction: ClassifyDirection(from, to, target),
	}
}

func bankSendTransfers(msg Message, target string) []Transfer {
	from, _ := msg.Body["from_address"].(string)
	to, _ := msg.Body["to_address"].(string)
	if from == "" && to == "" {
		return nil
	}
	return []Transfer{newTransfer(TransferBankSend, from, to, coinsFrom(msg.Body["amount"]), target)}
}

func ibcTransfers(msg Message, target string) []Transfer {
	sender, _ := msg.Body["sender"].(string)
	receiver, _ := msg.Body["receiver"].(string)

	amount := coinsFrom(msg.Body["token"])
	if len(amount) == 0 {
		amount = coinsFrom(msg.Body["tokens"])
	}
	return []Transfer{newTransfer(TransferIBC, orUnknown(sender), orUnknown(receiver), amount, target)}
}

func multisendTransfers(msg Message, target string) []Transfer {
	var transfers []Transfer
	inputs, _ := msg.Body["inputs"].([]any)
	for _, in := range inputs {
		entry, _ := in.(map[string]any)
		if addr, _ := entry["address"].(string); addr == target {
			transfers = append(transfers, Transfer{
				Kind:      TransferMultisendInput,
				From:      target,
				To:        UnknownParty,
				Amount:    coinsFrom(entry["coins"]),
				Direction: DirectionSent,
			})
		}
	}
	outputs, _ := msg.Body["outputs"].([]any)
	for _, out := range outputs {
		entry, _ := out.(map[string]any)
		if addr, _ := entry["address"].(string); addr == target {
			transfers = append(transfers, Transfer{
				Kind:      TransferMultisendOut,
				From:      UnknownParty,
				To:        target,
				Amount:    coinsFrom(entry["coins"]),
				Direction: DirectionReceived,
			})
		}
	}
	return transfers
}

// groupAttributes splits an event's attributes into runs. A new run starts
// whenever a key repeats, which is how the SDK flattens several transfers
// into one event.
func groupAttributes(attrs []Attribute) []map[string]string {
	var groups []map[string]string
	current := map[string]string{}
	for _, a := range attrs {
		if _, seen := current[a.Key]; seen {
			groups = append(groups, current)
			current = map[string]string{}
		}
		current[a.Key] = a.Value
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func containsMovement(transfers []Transfer, t Transfer) bool {
	amount := FormatCoins(t.Amount)
	for _, existing := range transfers {
		if existing.From == t.From && existing.To == t.To && FormatCoins(existing.Amount) == amount {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownParty
	}
	return s
}
