package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// matchResult records one matcher's claim on a value. Confirmations count
// the structural checks beyond the bare shape (grouping, known prefixes,
// substring cues). Identifier types with a checksum algorithm record its
// outcome separately; a failed checksum disqualifies the claim.
type matchResult struct {
	ok            bool
	confirmations int
	checksumRun   bool
	checksumOK    bool
}

type matcher struct {
	dataType DataType
	match    func(s string) matchResult
}

var (
	cardShape     = regexp.MustCompile(`^\d[\d -]{11,21}\d$`)
	cardGrouping  = regexp.MustCompile(`^\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}$`)
	abnCue        = regexp.MustCompile(`(?i)^abn:?\s*`)
	abnGrouping   = regexp.MustCompile(`^\d{2}[ -]\d{3}[ -]\d{3}[ -]\d{3}$`)
	tfnGrouping   = regexp.MustCompile(`^\d{3}[ -]\d{3}[ -]\d{3}$`)
	bsbAccount    = regexp.MustCompile(`^(\d{3})-(\d{3})[ -]?(\d{6,10})$`)
	emailShape    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneShape    = regexp.MustCompile(`^(\+\d{1,3}[ -]?|\(0\d\)[ -]?|0)[\d ()-]{7,15}$`)
	currencyPre   = regexp.MustCompile(`^(AUD|NZD|USD|A?\$)\s?-?\d{1,3}(,\d{3})*(\.\d{1,2})?$`)
	currencyPost  = regexp.MustCompile(`(?i)^-?\d{1,3}(,\d{3})*(\.\d{1,2})?\s?(AUD|NZD|USD|dollars)$`)
	percentShape  = regexp.MustCompile(`^-?\d+(\.\d+)?\s?%$`)
	dateISO       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateSlash     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	dateTextual   = regexp.MustCompile(`(?i)^(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+(\d{4})$`)
	yearShape     = regexp.MustCompile(`^(19|20)\d{2}$`)
	postcodeShape = regexp.MustCompile(`^[0-7]\d{3}$`)
	addressShape  = regexp.MustCompile(`(?i)^\d+[a-z]?(/\d+)?\s+[a-z' ]+\s+(st|street|rd|road|ave|avenue|dr|drive|ct|court|pl|place|cres|crescent|pde|parade|hwy|highway|ln|lane|way|tce|terrace)\b`)
	stateAbbrev   = regexp.MustCompile(`(?i)\b(nsw|vic|qld|wa|sa|tas|act|nt)\b`)
	trailingPost  = regexp.MustCompile(`\b\d{4}$`)
	nameShape     = regexp.MustCompile(`^((Mr|Mrs|Ms|Dr|Prof|Aunty|Uncle)\.?\s+)?[A-Z][a-z]+(\s+[A-Z][a-z]+){1,2}$`)
	honorific     = regexp.MustCompile(`^(Mr|Mrs|Ms|Dr|Prof|Aunty|Uncle)\.?\s`)
)

// cardPrefixes are issuer identification ranges worth an extra confirmation.
var cardPrefixes = []string{"4", "51", "52", "53", "54", "55", "34", "37", "6011", "65"}

func matchCreditCard(s string) matchResult {
	if !cardShape.MatchString(s) {
		return matchResult{}
	}
	digits, ok := digitsOnly(s)
	if !ok || len(digits) < 13 || len(digits) > 19 {
		return matchResult{}
	}
	res := matchResult{ok: true, checksumRun: true, checksumOK: luhnValid(digits)}
	if cardGrouping.MatchString(s) {
		res.confirmations++
	}
	for _, p := range cardPrefixes {
		if strings.HasPrefix(digits, p) {
			res.confirmations++
			break
		}
	}
	return res
}

func matchTaxFileNumber(s string) matchResult {
	digits, ok := digitsOnly(s)
	if !ok || len(digits) != 9 {
		return matchResult{}
	}
	res := matchResult{ok: true, checksumRun: true, checksumOK: tfnValid(digits)}
	if tfnGrouping.MatchString(s) {
		res.confirmations++
	}
	return res
}

func matchBusinessNumber(s string) matchResult {
	cued := abnCue.MatchString(s)
	trimmed := abnCue.ReplaceAllString(s, "")
	digits, ok := digitsOnly(trimmed)
	if !ok || len(digits) != 11 {
		return matchResult{}
	}
	res := matchResult{ok: true, checksumRun: true, checksumOK: abnValid(digits)}
	if cued {
		res.confirmations++
	}
	if abnGrouping.MatchString(trimmed) {
		res.confirmations++
	}
	return res
}

func matchBankAccount(s string) matchResult {
	m := bsbAccount.FindStringSubmatch(s)
	if m == nil {
		return matchResult{}
	}
	res := matchResult{ok: true, confirmations: 1}
	if len(m[3]) <= 9 {
		res.confirmations++
	}
	return res
}

func matchEmail(s string) matchResult {
	if !emailShape.MatchString(s) {
		return matchResult{}
	}
	res := matchResult{ok: true}
	if isValidEmail(s) {
		res.confirmations++
	}
	return res
}

func matchPhone(s string) matchResult {
	if !phoneShape.MatchString(s) {
		return matchResult{}
	}
	digits := strings.Map(keepDigit, s)
	if len(digits) < 8 || len(digits) > 12 {
		return matchResult{}
	}
	res := matchResult{ok: true}
	if strings.HasPrefix(s, "+61") || strings.HasPrefix(s, "0") || strings.HasPrefix(s, "(0") {
		res.confirmations++
	}
	if strings.HasPrefix(digits, "614") || strings.HasPrefix(digits, "04") {
		res.confirmations++
	}
	return res
}

func matchCurrency(s string) matchResult {
	if !currencyPre.MatchString(s) && !currencyPost.MatchString(s) {
		return matchResult{}
	}
	res := matchResult{ok: true, confirmations: 1}
	if strings.Contains(s, ",") {
		res.confirmations++
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 && i+3 <= len(s) {
		res.confirmations++
	}
	return res
}

func matchPercentage(s string) matchResult {
	if !percentShape.MatchString(s) {
		return matchResult{}
	}
	res := matchResult{ok: true}
	num := strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if v, err := strconv.ParseFloat(num, 64); err == nil && v >= 0 && v <= 100 {
		res.confirmations++
	}
	return res
}

func matchDate(s string) matchResult {
	switch {
	case dateISO.MatchString(s):
		res := matchResult{ok: true, confirmations: 1}
		if _, err := time.Parse("2006-01-02", s); err == nil {
			res.confirmations++
		}
		return res
	case dateSlash.MatchString(s):
		m := dateSlash.FindStringSubmatch(s)
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		res := matchResult{ok: true}
		if day >= 1 && day <= 31 && month >= 1 && month <= 12 {
			res.confirmations++
		}
		if len(m[3]) == 4 {
			res.confirmations++
		}
		return res
	case dateTextual.MatchString(s):
		return matchResult{ok: true, confirmations: 2}
	case yearShape.MatchString(s):
		return matchResult{ok: true}
	}
	return matchResult{}
}

func matchPostcode(s string) matchResult {
	if !postcodeShape.MatchString(s) {
		return matchResult{}
	}
	return matchResult{ok: true}
}

func matchPostalAddress(s string) matchResult {
	if !addressShape.MatchString(s) {
		return matchResult{}
	}
	res := matchResult{ok: true, confirmations: 1}
	if stateAbbrev.MatchString(s) {
		res.confirmations++
	}
	if trailingPost.MatchString(s) {
		res.confirmations++
	}
	return res
}

func matchPersonName(s string) matchResult {
	if !nameShape.MatchString(s) {
		return matchResult{}
	}
	res := matchResult{ok: true}
	if honorific.MatchString(s) {
		res.confirmations++
	}
	return res
}

func keepDigit(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

// matcherTable fixes the evaluation order. Identifier types with checksums
// run first so their validation outcome is available before the looser
// shapes get a chance to claim the value.
func matcherTable() []matcher {
	return []matcher{
		{TypeCreditCard, matchCreditCard},
		{TypeTaxFileNumber, matchTaxFileNumber},
		{TypeBusinessNumber, matchBusinessNumber},
		{TypeBankAccount, matchBankAccount},
		{TypeEmail, matchEmail},
		{TypePhone, matchPhone},
		{TypeCurrencyAmount, matchCurrency},
		{TypePercentage, matchPercentage},
		{TypeDate, matchDate},
		{TypePostcode, matchPostcode},
		{TypePostalAddress, matchPostalAddress},
		{TypePersonName, matchPersonName},
	}
}
