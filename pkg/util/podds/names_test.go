package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var bundesligaKeys = []string{
	"Bayern Munich", "Dortmund", "Leverkusen", "M'gladbach", "Eint Frankfurt", "Wolfsburg",
	"Hoffenheim", "Mainz 05", "Freiburg", "Union Berlin", "FC Koln", "St. Pauli", "RB Leipzig",
	"Werder Bremen", "Hamburger SV", "Stuttgart", "Augsburg", "Heidenheim",
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"1. FC Köln":          "koln",
		"FC Koln":             "koln",
		"Bayer 04 Leverkusen": "leverkusen",
		"M'gladbach":          "m gladbach",
		"  St.  Pauli ":       "st pauli",
		"TSG 1899 Hoffenheim": "hoffenheim",
		"FC":                  "fc",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestResolveRankedStrategies(t *testing.T) {
	r := NewNameResolver(BundesligaAliases)
	tests := []struct {
		feed, key, strategy string
	}{
		{"Bayern München", "Bayern Munich", "alias"},
		{"bayern munchen", "Bayern Munich", "alias"},
		{"Borussia Mönchengladbach", "M'gladbach", "alias"},
		{"RB Leipzig", "RB Leipzig", "exact"},
		{"SV Werder Bremen", "Werder Bremen", "normalized"},
		{"VfB Stuttgart", "Stuttgart", "alias"},
		{"FC Heidenheim", "Heidenheim", "normalized"},
		{"Hamburger", "Hamburger SV", "normalized"},
	}
	for _, tt := range tests {
		key, strategy, ok := r.Resolve(tt.feed, bundesligaKeys)
		assert.True(t, ok, tt.feed)
		assert.Equal(t, tt.key, key, tt.feed)
		assert.Equal(t, tt.strategy, strategy, tt.feed)
	}
}

func TestResolveWithoutAliases(t *testing.T) {
	r := NewNameResolver(nil)

	key, strategy, ok := r.Resolve("1. FC Union Berlin", bundesligaKeys)
	assert.True(t, ok)
	assert.Equal(t, "Union Berlin", key)
	assert.Equal(t, "normalized", strategy)

	key, strategy, ok = r.Resolve("Hamburger SV 1887", []string{"Hamburg", "Bremen"})
	assert.True(t, ok)
	assert.Equal(t, "Hamburg", key)
	assert.Equal(t, "substring", strategy)

	key, strategy, ok = r.Resolve("Greuther Furth", []string{"Greuther Fuerth", "Nurnberg"})
	assert.True(t, ok)
	assert.Equal(t, "Greuther Fuerth", key)
	assert.Equal(t, "fuzzy", strategy)
}

func TestResolveNoMatch(t *testing.T) {
	r := NewNameResolver(BundesligaAliases)
	_, _, ok := r.Resolve("Real Madrid", bundesligaKeys)
	assert.False(t, ok)
	_, _, ok = r.Resolve("", bundesligaKeys)
	assert.False(t, ok)
	_, _, ok = r.Resolve("Dortmund", nil)
	assert.False(t, ok)

	// alias pointing outside the rating table falls through to the other strategies
	_, _, ok = r.Resolve("Hertha Berlin", []string{"Dortmund"})
	assert.False(t, ok)
}

func TestFuzzyStrategyRejectsTies(t *testing.T) {
	match := FuzzyStrategy(2, 6)
	_, ok := match("abcdefg", []string{"abcdefx", "abcdefy"})
	assert.False(t, ok)
	_, ok = match("short", []string{"shore"})
	assert.False(t, ok, "names under the minimum length are not fuzzed")
}

func TestCustomStrategyOrder(t *testing.T) {
	r := NewNameResolverWith(Strategy{Name: "exact", Match: ExactStrategy})
	_, _, ok := r.Resolve("Borussia Dortmund", bundesligaKeys)
	assert.False(t, ok)
	key, _, ok := r.Resolve("Dortmund", bundesligaKeys)
	assert.True(t, ok)
	assert.Equal(t, "Dortmund", key)
}
