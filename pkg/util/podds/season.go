package podds

import (
	"fmt"
	"strings"

	"github.com/richard-senior/podds/pkg/util"
)

// ParseSeason normalises a season to the form YYYY/YYYY.
// Accepts "2025/2026", "2025-2026", "2025/26", "2025-26" and a bare start year such as 2025.
func ParseSeason(season any) (string, error) {
	if season == nil {
		return "", fmt.Errorf("must pass a season")
	}
	ss, err := util.GetAsString(season)
	if err != nil {
		return "", err
	}
	ss = strings.ReplaceAll(strings.TrimSpace(ss), "-", "/")

	first, second, split := strings.Cut(ss, "/")
	start, err := util.GetAsInteger(first)
	if err != nil || len(first) != 4 {
		return "", fmt.Errorf("invalid season format: %v", season)
	}
	if !split {
		return fmt.Sprintf("%d/%d", start, start+1), nil
	}

	end, err := util.GetAsInteger(second)
	if err != nil {
		return "", fmt.Errorf("invalid season format: %v", season)
	}
	switch len(second) {
	case 2:
		end += start / 100 * 100
		// 1999/00
		if end < start {
			end += 100
		}
	case 4:
	default:
		return "", fmt.Errorf("invalid season format: %v", season)
	}
	if end != start+1 {
		return "", fmt.Errorf("season %v does not span consecutive years", season)
	}
	return fmt.Sprintf("%d/%d", start, end), nil
}

// SeasonStartYear is the first year of a season, the form API-Football expects
func SeasonStartYear(season any) (int, error) {
	s, err := ParseSeason(season)
	if err != nil {
		return 0, err
	}
	return util.GetAsInteger(s[:4])
}
