package pricing

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	numberRe = regexp.MustCompile(`\d(?:[\d.,'\x{00a0}\x{202f} ]*\d)?`)
	codeRe   = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CNY|INR|RUB|BRL|CAD|AUD|CHF|PLN|SEK|NOK|DKK|CZK|TRY|MXN|KRW|UAH)\b`)
)

// symbols are checked in order, prefixed dollars before the bare sign.
var symbols = []struct {
	sym  string
	code string
}{
	{"US$", "USD"},
	{"R$", "BRL"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₽", "RUB"},
	{"₴", "UAH"},
	{"₺", "TRY"},
	{"₩", "KRW"},
	{"zł", "PLN"},
	{"$", "USD"},
}

var thousand = decimal.NewFromInt(1000)
var million = decimal.NewFromInt(1_000_000)

// DetectCurrency returns the ISO code adjacent to a price, or "".
func DetectCurrency(s string) string {
	if m := codeRe.FindString(s); m != "" {
		return m
	}
	for _, c := range symbols {
		if strings.Contains(s, c.sym) {
			return c.code
		}
	}
	return ""
}

// ParsePrice reads the first number in raw, normalising thousands and
// decimal separators, and an optional k/m multiplier. ok is false when raw
// has no digits.
func ParsePrice(raw, defaultCurrency string) (price decimal.Decimal, currency string, ok bool) {
	loc := numberRe.FindStringIndex(raw)
	if loc == nil {
		return decimal.Decimal{}, "", false
	}
	price, ok = normalizeNumber(raw[loc[0]:loc[1]])
	if !ok {
		return decimal.Decimal{}, "", false
	}

	switch multiplier(raw[loc[1]:]) {
	case 'k':
		price = price.Mul(thousand)
	case 'm':
		price = price.Mul(million)
	}

	currency = DetectCurrency(raw)
	if currency == "" {
		currency = strings.ToUpper(defaultCurrency)
	}
	return price, currency, true
}

// parseMachinePrice reads a schema.org number, where a dot is always the
// decimal point. Anything decimal cannot read goes through ParsePrice.
func parseMachinePrice(raw, defaultCurrency string) (decimal.Decimal, string, bool) {
	if d, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return d, strings.ToUpper(defaultCurrency), true
	}
	return ParsePrice(raw, defaultCurrency)
}

func multiplier(rest string) byte {
	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return 0
	}
	c := rest[0] | 0x20
	if c != 'k' && c != 'm' {
		return 0
	}
	// "5 kg", "10 min" are units, not multipliers
	if len(rest) > 1 {
		n := rest[1]
		if (n|0x20) >= 'a' && (n|0x20) <= 'z' {
			return 0
		}
	}
	return c
}

// normalizeNumber decides which separator is the decimal one by looking at
// the last comma and last period.
func normalizeNumber(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer(" ", "", "'", "", "\u00a0", "", "\u202f", "").Replace(s)

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// a lone dot before exactly three digits groups thousands ("1.299 €"),
		// unless the integer part is zero
		if strings.Count(s, ".") > 1 || (len(s)-lastDot-1 == 3 && strings.TrimLeft(s[:lastDot], "0") != "") {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
