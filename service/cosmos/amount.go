package cosmos

import (
	"regexp"
	"strconv"
	"strings"
)

var coinPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([a-zA-Z].*)$`)

// ParseAmount parses a coin string such as "1000uatom,2000uosmo".
// Segments that are not <digits><denom> are kept whole in Amount with an
// empty Denom.
func ParseAmount(s string) []Coin {
	coins := []Coin{}
	for _, seg := range strings.Split(s, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		m := coinPattern.FindStringSubmatch(seg)
		if m == nil {
			coins = append(coins, Coin{Amount: seg})
			continue
		}
		coins = append(coins, Coin{Amount: m[1], Denom: m[2]})
	}
	return coins
}

// FormatCoins renders coins back into the comma separated form.
func FormatCoins(coins []Coin) string {
	parts := make([]string, len(coins))
	for i, c := range coins {
		parts[i] = c.Amount + c.Denom
	}
	return strings.Join(parts, ",")
}

// coinsFrom reads coins out of a decoded message field, which may be a coin
// list, a single coin object or a coin string.
func coinsFrom(v any) []Coin {
	coins := []Coin{}
	switch x := v.(type) {
	case string:
		return ParseAmount(x)
	case map[string]any:
		if c, ok := coinFromMap(x); ok {
			coins = append(coins, c)
		}
	case []any:
		for _, e := range x {
			switch c := e.(type) {
			case map[string]any:
				if coin, ok := coinFromMap(c); ok {
					coins = append(coins, coin)
				}
			case string:
				coins = append(coins, ParseAmount(c)...)
			}
		}
	}
	return coins
}

func coinFromMap(m map[string]any) (Coin, bool) {
	denom, _ := m["denom"].(string)
	var amount string
	switch a := m["amount"].(type) {
	case string:
		amount = a
	case float64:
		amount = strconv.FormatFloat(a, 'f', -1, 64)
	}
	if denom == "" && amount == "" {
		return Coin{}, false
	}
	return Coin{Denom: denom, Amount: amount}, true
}
