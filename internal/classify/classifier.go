package classify

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
)

// Classifier runs the fixed matcher table and the cultural-keyword detector
// over scalar values. It holds no external dependencies, performs no I/O,
// and is safe for concurrent use.
type Classifier struct {
	matchers []matcher
	cultural *culturalDetector
}

func New() *Classifier {
	return &Classifier{
		matchers: matcherTable(),
		cultural: newCulturalDetector(),
	}
}

const (
	baseConfidence     = 0.5
	confirmationWeight = 0.1
	checksumBonus      = 0.25
	culturalWeight     = 0.05
	outlierPenalty     = 0.15

	// failedChecksum is what a value is worth once an identifier shape
	// matched but its validation algorithm rejected it.
	failedChecksumConfidence = 0.2

	fallbackConfidence = 0.1

	maxValueLength = 256
)

// Classify maps an arbitrary scalar to a ClassifiedValue. Non-scalar and
// nil inputs classify as unknown with zero confidence rather than erroring.
func (c *Classifier) Classify(value any) ClassifiedValue {
	switch v := value.(type) {
	case nil:
		return unknownValue(nil, 0)
	case string:
		return c.classifyString(v, v)
	case json.Number:
		return c.classifyString(v.String(), v)
	case int:
		return c.classifyString(strconv.Itoa(v), v)
	case int32:
		return c.classifyString(strconv.FormatInt(int64(v), 10), v)
	case int64:
		return c.classifyString(strconv.FormatInt(v, 10), v)
	case float32:
		return c.classifyFloat(float64(v), v)
	case float64:
		return c.classifyFloat(v, v)
	default:
		return unknownValue(value, 0)
	}
}

// classifyFloat stringifies and reuses the matcher table, with one numeric
// heuristic on top: a bare fraction in (0,1) reads as a percentage ratio.
func (c *Classifier) classifyFloat(f float64, raw any) ClassifiedValue {
	out := c.classifyString(strconv.FormatFloat(f, 'f', -1, 64), raw)
	if out.DataType == TypeUnknown && f > 0 && f < 1 {
		return ClassifiedValue{
			Raw:         raw,
			DataType:    TypePercentage,
			Sensitivity: sensitivityFor(TypePercentage, false),
			Confidence:  0.55,
			Matches:     []string{string(TypePercentage)},
		}
	}
	return out
}

type candidate struct {
	dataType DataType
	res      matchResult
}

func (c *Classifier) classifyString(s string, raw any) ClassifiedValue {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return unknownValue(raw, 0)
	}

	var qualified []candidate
	var matches []string
	for _, m := range c.matchers {
		res := m.match(trimmed)
		if !res.ok {
			continue
		}
		if res.checksumRun && !res.checksumOK {
			matches = append(matches, string(m.dataType)+"(checksum_failed)")
			continue
		}
		qualified = append(qualified, candidate{m.dataType, res})
		matches = append(matches, string(m.dataType))
	}

	hits := c.cultural.detect(trimmed)
	sacred := hits.Sacred > 0

	if len(qualified) == 0 {
		if hits.Total() > 0 {
			return c.culturalValue(raw, hits, matches)
		}
		conf := fallbackConfidence
		if len(matches) > 0 {
			conf = failedChecksumConfidence
		}
		out := unknownValue(raw, conf)
		out.Matches = matches
		return out
	}

	winner := pickWinner(trimmed, qualified)

	confidence := baseConfidence
	confidence += confirmationWeight * float64(minInt(winner.res.confirmations, 3))
	if winner.res.checksumOK {
		confidence += checksumBonus
	}
	confidence += culturalWeight * float64(minInt(hits.Total(), 2))
	confidence -= lengthOutlierPenalty(trimmed)

	sensitivity := sensitivityFor(winner.dataType, sacred)
	if hits.Total() > 0 {
		floor := SensitivityRestricted
		if sacred {
			floor = SensitivitySacred
		}
		sensitivity = MaxSensitivity(sensitivity, floor)
	}

	return ClassifiedValue{
		Raw:                 raw,
		DataType:            winner.dataType,
		Sensitivity:         sensitivity,
		CulturallySensitive: hits.Total() > 0,
		Confidence:          clamp01(confidence),
		Matches:             matches,
	}
}

func (c *Classifier) culturalValue(raw any, hits culturalHits, matches []string) ClassifiedValue {
	sacred := hits.Sacred > 0
	confidence := baseConfidence + confirmationWeight*float64(minInt(hits.Total(), 4))
	return ClassifiedValue{
		Raw:                 raw,
		DataType:            TypeCulturalContent,
		Sensitivity:         sensitivityFor(TypeCulturalContent, sacred),
		CulturallySensitive: true,
		Confidence:          clamp01(confidence),
		Matches:             append(matches, string(TypeCulturalContent)),
	}
}

// pickWinner takes the candidate with the most structural confirmations.
// Ties fall back to content heuristics, then to matcher-table order.
func pickWinner(s string, qualified []candidate) candidate {
	best := qualified[0]
	tied := []candidate{best}
	for _, cand := range qualified[1:] {
		switch {
		case cand.res.confirmations > best.res.confirmations:
			best = cand
			tied = []candidate{cand}
		case cand.res.confirmations == best.res.confirmations:
			tied = append(tied, cand)
		}
	}
	if len(tied) == 1 {
		return best
	}
	return tieBreak(s, tied)
}

func tieBreak(s string, tied []candidate) candidate {
	has := func(t DataType) (candidate, bool) {
		for _, cand := range tied {
			if cand.dataType == t {
				return cand, true
			}
		}
		return candidate{}, false
	}
	// Four-digit values in the 19xx/20xx range read as years, not postcodes.
	if date, ok := has(TypeDate); ok {
		if _, alsoPost := has(TypePostcode); alsoPost {
			if strings.HasPrefix(s, "19") || strings.HasPrefix(s, "20") {
				return date
			}
			post, _ := has(TypePostcode)
			return post
		}
	}
	if strings.ContainsRune(s, '@') {
		if email, ok := has(TypeEmail); ok {
			return email
		}
	}
	if strings.ContainsRune(s, '.') {
		if cur, ok := has(TypeCurrencyAmount); ok {
			return cur
		}
	}
	return tied[0]
}

func lengthOutlierPenalty(s string) float64 {
	if len(s) < 2 || len(s) > maxValueLength {
		return outlierPenalty
	}
	return 0
}

func unknownValue(raw any, confidence float64) ClassifiedValue {
	return ClassifiedValue{
		Raw:         raw,
		DataType:    TypeUnknown,
		Sensitivity: SensitivityPublic,
		Confidence:  confidence,
	}
}

func isValidEmail(s string) bool {
	return govalidator.IsEmail(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
