package podds

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/util"
)

// CorpusSource supplies the historical rows for a league
type CorpusSource interface {
	Rows(ctx context.Context, league string) ([]HistoricalMatchRow, error)
}

// CSVCorpus reads <Root>/<league>/*.csv team match logs
type CSVCorpus struct {
	Root string
}

var corpusHeader = []string{"Date", "Team", "Opp", "Venue", "GF", "xG", "Result"}

var corpusDateFormats = []string{"2006-01-02", "02/01/2006", "2006-01-02 15:04:05", "02/01/06"}

// Rows reads every csv file for the league, skipping files and rows that cannot be parsed.
// Returns ErrNotEnoughData when nothing usable was found.
func (c *CSVCorpus) Rows(ctx context.Context, league string) ([]HistoricalMatchRow, error) {
	dir, err := c.leagueDir(league)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus files in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no corpus files in %s: %w", dir, ErrNotEnoughData)
	}
	sort.Strings(files)

	var rows []HistoricalMatchRow
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileRows, err := readCorpusFile(f)
		if err != nil {
			logger.Warn("Skipping unreadable corpus file", f, err)
			continue
		}
		rows = append(rows, fileRows...)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no usable rows in %s: %w", dir, ErrNotEnoughData)
	}
	logger.Debug("Read corpus rows", league, len(rows))
	return rows, nil
}

// leagueDir is the league's folder under Root. The name must be a single path element.
func (c *CSVCorpus) leagueDir(league string) (string, error) {
	if league == "" || league == "." || league == ".." || strings.ContainsAny(league, `/\`) {
		return "", fmt.Errorf("invalid league name %q: %w", league, ErrUnknownLeague)
	}
	return filepath.Join(c.Root, league), nil
}

func readCorpusFile(path string) ([]HistoricalMatchRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	team := teamFromFileName(path)
	return ParseCorpusCSV(f, team)
}

// ParseCorpusCSV parses one team match log. defaultTeam is used when the file has no Team column.
func ParseCorpusCSV(r io.Reader, defaultTeam string) ([]HistoricalMatchRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["opponent"]; ok {
		if _, has := cols["opp"]; !has {
			cols["opp"] = cols["opponent"]
		}
	}
	for _, required := range []string{"date", "opp", "venue", "gf", "result"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", required, ErrMalformedRow)
		}
	}

	var rows []HistoricalMatchRow
	skipped := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseCorpusRecord(record, cols, defaultTeam)
		if err != nil {
			logger.Debug("Skipping corpus row", line, err)
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if skipped > 0 {
		logger.Warn("Skipped malformed corpus rows", defaultTeam, skipped)
	}
	return rows, nil
}

func parseCorpusRecord(record []string, cols map[string]int, defaultTeam string) (HistoricalMatchRow, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var row HistoricalMatchRow
	date, err := parseCorpusDate(get("date"))
	if err != nil {
		return row, err
	}
	row.Date = date
	row.Team = get("team")
	if row.Team == "" {
		row.Team = defaultTeam
	}
	row.Opponent = get("opp")
	if row.Team == "" || row.Opponent == "" {
		return row, fmt.Errorf("missing team or opponent: %w", ErrMalformedRow)
	}
	row.Venue = ParseVenue(get("venue"))
	row.Result = get("result")

	// unplayed fixtures keep a blank score, the trainer drops them on the missing result
	if gf := get("gf"); gf != "" {
		row.GoalsFor, err = util.ParseLeadingNumber(gf)
		if err != nil {
			return row, fmt.Errorf("bad GF %q: %w", gf, ErrMalformedRow)
		}
	} else if row.HasResult() {
		return row, fmt.Errorf("result without GF: %w", ErrMalformedRow)
	}
	if xg := get("xg"); xg != "" {
		v, err := strconv.ParseFloat(xg, 64)
		if err != nil {
			return row, fmt.Errorf("bad xG %q: %w", xg, ErrMalformedRow)
		}
		row.ExpectedGoals = v
		row.HasExpectedGoals = true
	}
	return row, nil
}

// ParseVenue reads "Home", "Away" or the "@" away marker
func ParseVenue(s string) Venue {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "@" || s == "away" || s == "a" {
		return VenueAway
	}
	return VenueHome
}

func parseCorpusDate(s string) (time.Time, error) {
	for _, layout := range corpusDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q: %w", s, ErrMalformedRow)
}

func teamFromFileName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// WriteCorpusCSV writes rows in the format Rows reads back
func WriteCorpusCSV(w io.Writer, rows []HistoricalMatchRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(corpusHeader); err != nil {
		return err
	}
	for _, r := range rows {
		xg := ""
		if r.HasExpectedGoals {
			xg = strconv.FormatFloat(r.ExpectedGoals, 'f', -1, 64)
		}
		gf := ""
		if r.HasResult() {
			gf = strconv.FormatFloat(r.GoalsFor, 'f', -1, 64)
		}
		venue := r.Venue.String()
		if err := cw.Write([]string{r.Date.Format("2006-01-02"), r.Team, r.Opponent, venue, gf, xg, r.Result}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCorpusFile writes a team's rows to <Root>/<league>/<team>.csv
func (c *CSVCorpus) SaveCorpusFile(league, team string, rows []HistoricalMatchRow) (string, error) {
	dir, err := c.leagueDir(league)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create corpus dir: %w", err)
	}
	name := strings.NewReplacer(" ", "_", "/", "_", "'", "").Replace(team) + ".csv"
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteCorpusCSV(f, rows); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
