package podds

// BundesligaAliases maps feed (API-Football) team names to corpus (FBref) names
var BundesligaAliases = map[string]string{
	"Bayern München":           "Bayern Munich",
	"FC Bayern München":        "Bayern Munich",
	"Borussia Dortmund":        "Dortmund",
	"Bayer 04 Leverkusen":      "Leverkusen",
	"Bayer Leverkusen":         "Leverkusen",
	"Borussia Mönchengladbach": "M'gladbach",
	"Borussia Monchengladbach": "M'gladbach",
	"Eintracht Frankfurt":      "Eint Frankfurt",
	"VfL Wolfsburg":            "Wolfsburg",
	"1899 Hoffenheim":          "Hoffenheim",
	"TSG 1899 Hoffenheim":      "Hoffenheim",
	"TSG Hoffenheim":           "Hoffenheim",
	"FSV Mainz 05":             "Mainz 05",
	"1. FSV Mainz 05":          "Mainz 05",
	"SC Freiburg":              "Freiburg",
	"FC Augsburg":              "Augsburg",
	"VfB Stuttgart":            "Stuttgart",
	"VfL Bochum":               "Bochum",
	"1. FC Heidenheim (1846)":  "Heidenheim",
	"1. FC Union Berlin":       "Union Berlin",
	"Kieler SV Holstein":       "Holstein Kiel",
	"FC St. Pauli":             "St. Pauli",
	"SV Darmstadt 98":          "Darmstadt 98",
	"1. FC Koln":               "FC Koln",
	"1. FC Köln":               "FC Koln",
	"Köln":                     "FC Koln",
	"Hertha Berlin":            "Hertha BSC",
	"FC Schalke 04":            "Schalke 04",
	"Fortuna Dusseldorf":       "Dusseldorf",
	"SpVgg Greuther Fürth":     "Greuther Furth",
}

// DefaultAliases returns the alias table shipped for each league name
func DefaultAliases() map[string]map[string]string {
	return map[string]map[string]string{
		"Bundesliga": BundesligaAliases,
	}
}
