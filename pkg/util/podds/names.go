package podds

import (
	"sort"
	"strings"
	"unicode"

	"github.com/richard-senior/podds/pkg/util"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// clubTokens are dropped when comparing names, "1. FC Köln" and "FC Koln" both become "koln"
var clubTokens = map[string]bool{
	"fc": true, "sv": true, "tsg": true, "vfl": true, "vfb": true, "fsv": true,
	"sc": true, "borussia": true, "bayer": true, "spvgg": true, "rb": true,
	"afc": true, "cf": true, "ac": true, "ssc": true, "us": true, "as": true,
	"sk": true, "bk": true, "if": true, "cd": true, "ud": true, "rc": true,
}

// Strategy is one ranked way of matching a feed name against rating-table keys
type Strategy struct {
	Name  string
	Match func(name string, keys []string) (string, bool)
}

// NameResolver maps a team name from an external feed onto a rating-table key.
// Strategies run in order and the first hit wins.
type NameResolver struct {
	strategies []Strategy
}

// NewNameResolver builds the default ranking: alias table, exact, normalised exact,
// normalised substring, then a tight edit-distance match.
func NewNameResolver(aliases map[string]string) *NameResolver {
	return &NameResolver{strategies: []Strategy{
		{Name: "alias", Match: AliasStrategy(aliases)},
		{Name: "exact", Match: ExactStrategy},
		{Name: "normalized", Match: NormalizedStrategy},
		{Name: "substring", Match: SubstringStrategy},
		{Name: "fuzzy", Match: FuzzyStrategy(2, 6)},
	}}
}

// NewNameResolverWith uses the given strategies in the given order
func NewNameResolverWith(strategies ...Strategy) *NameResolver {
	return &NameResolver{strategies: strategies}
}

// Resolve returns the matching key and the name of the strategy that found it
func (r *NameResolver) Resolve(name string, keys []string) (key string, strategy string, ok bool) {
	if strings.TrimSpace(name) == "" || len(keys) == 0 {
		return "", "", false
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, s := range r.strategies {
		if k, hit := s.Match(name, sorted); hit {
			return k, s.Name, true
		}
	}
	return "", "", false
}

// AliasStrategy looks the name up in an explicit alias table, ignoring case and accents
func AliasStrategy(aliases map[string]string) func(string, []string) (string, bool) {
	folded := make(map[string]string, len(aliases))
	for from, to := range aliases {
		folded[foldName(from)] = to
	}
	return func(name string, keys []string) (string, bool) {
		target, ok := aliases[name]
		if !ok {
			target, ok = folded[foldName(name)]
		}
		if !ok {
			return "", false
		}
		return ExactStrategy(target, keys)
	}
}

// ExactStrategy matches a key byte for byte
func ExactStrategy(name string, keys []string) (string, bool) {
	for _, k := range keys {
		if k == name {
			return k, true
		}
	}
	return "", false
}

// NormalizedStrategy matches when both sides normalise to the same tokens
func NormalizedStrategy(name string, keys []string) (string, bool) {
	n := NormalizeName(name)
	for _, k := range keys {
		if NormalizeName(k) == n {
			return k, true
		}
	}
	return "", false
}

// SubstringStrategy matches when one normalised name contains the other.
// The longest contained key wins so "union berlin" beats "berlin".
func SubstringStrategy(name string, keys []string) (string, bool) {
	n := NormalizeName(name)
	if len(n) < 3 {
		return "", false
	}
	best, bestLen := "", 0
	for _, k := range keys {
		nk := NormalizeName(k)
		if len(nk) < 3 {
			continue
		}
		if strings.Contains(n, nk) || strings.Contains(nk, n) {
			if len(nk) > bestLen {
				best, bestLen = k, len(nk)
			}
		}
	}
	return best, bestLen > 0
}

// FuzzyStrategy accepts the closest key within maxDistance edits, only for names of at least minLen runes.
// Ties are treated as no match.
func FuzzyStrategy(maxDistance, minLen int) func(string, []string) (string, bool) {
	return func(name string, keys []string) (string, bool) {
		n := NormalizeName(name)
		if len([]rune(n)) < minLen {
			return "", false
		}
		best, bestDist, tied := "", maxDistance+1, false
		for _, k := range keys {
			d := util.LevenshteinDistance(n, NormalizeName(k))
			switch {
			case d < bestDist:
				best, bestDist, tied = k, d, false
			case d == bestDist:
				tied = true
			}
		}
		if best == "" || tied {
			return "", false
		}
		return best, true
	}
}

// NormalizeName lowercases, strips accents and punctuation, then drops club-type and numeric tokens
func NormalizeName(name string) string {
	folded := foldName(name)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)

	var kept []string
	for _, tok := range strings.Fields(cleaned) {
		if clubTokens[tok] || isDigits(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return strings.Join(strings.Fields(cleaned), " ")
	}
	return strings.Join(kept, " ")
}

// foldName lowercases and strips diacritics
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
