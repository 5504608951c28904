package classify

import (
	"regexp"
	"strings"
)

// Cultural sensitivity detection is keyword-driven: three curated term sets
// covering nation and territory names, ceremonial or sacred language, and
// kinship or community roles. Matching any sacred term raises the value to
// the highest protection level regardless of what else it contains.

var territoryTerms = []string{
	"wiradjuri", "yolngu", "noongar", "arrernte", "gunditjmara",
	"palawa", "kaurna", "gadigal", "dharug", "bundjalung", "yorta yorta",
	"pitjantjatjara", "warlpiri", "gamilaraay", "wurundjeri", "larrakia",
	"native title", "traditional lands", "on country",
}

var sacredTerms = []string{
	"sacred", "ceremony", "ceremonial", "initiation", "sorry business",
	"men's business", "women's business", "tjukurpa", "corroboree",
	"songline", "dreaming", "dreamtime", "burial site", "sacred site",
	"bora ring", "secret sacred",
}

var kinshipTerms = []string{
	"elder", "elders", "aunty", "uncle", "mob", "clan", "moiety",
	"skin name", "kinship", "totem", "traditional owner", "custodian",
	"community council", "land council",
}

type culturalDetector struct {
	territory *regexp.Regexp
	sacred    *regexp.Regexp
	kinship   *regexp.Regexp
}

func newCulturalDetector() *culturalDetector {
	return &culturalDetector{
		territory: termPattern(territoryTerms),
		sacred:    termPattern(sacredTerms),
		kinship:   termPattern(kinshipTerms),
	}
}

// termPattern compiles a word-boundary alternation over the term set.
func termPattern(terms []string) *regexp.Regexp {
	escaped := make([]string, len(terms))
	for i, t := range terms {
		escaped[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// culturalHits summarizes the keyword evidence found in a value.
type culturalHits struct {
	Territory int
	Sacred    int
	Kinship   int
}

func (h culturalHits) Total() int {
	return h.Territory + h.Sacred + h.Kinship
}

func (d *culturalDetector) detect(s string) culturalHits {
	return culturalHits{
		Territory: len(d.territory.FindAllString(s, -1)),
		Sacred:    len(d.sacred.FindAllString(s, -1)),
		Kinship:   len(d.kinship.FindAllString(s, -1)),
	}
}
