package podds

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/transport"
	"github.com/richard-senior/podds/pkg/util"
)

// Scraper turns FBref team match-log pages into corpus rows
type Scraper struct {
	// CachePath holds raw pages, empty disables caching
	CachePath string
	// Fetch defaults to transport.GetHtml
	Fetch func(ctx context.Context, url string) ([]byte, error)
}

// NewScraper returns a scraper caching pages under cachePath
func NewScraper(cachePath string) *Scraper {
	return &Scraper{CachePath: cachePath, Fetch: transport.GetHtml}
}

// FetchMatchLogs downloads (or reads from cache) one team's match log page and parses it.
// comp limits the rows to one competition, empty keeps all of them.
func (s *Scraper) FetchMatchLogs(ctx context.Context, url, team, comp string) ([]HistoricalMatchRow, error) {
	page, err := s.page(ctx, url)
	if err != nil {
		return nil, err
	}
	rows, err := ParseMatchLogs(strings.NewReader(string(page)), team, comp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse match logs for %s: %w", team, err)
	}
	logger.Info("Scraped match log rows", team, len(rows))
	return rows, nil
}

func (s *Scraper) page(ctx context.Context, url string) ([]byte, error) {
	var cacheFile string
	if s.CachePath != "" {
		sum := sha1.Sum([]byte(url))
		cacheFile = filepath.Join(s.CachePath, fmt.Sprintf("matchlogs-%s.html", hex.EncodeToString(sum[:8])))
		if data, err := os.ReadFile(cacheFile); err == nil {
			logger.Debug("Returning match log page from cache", url)
			return data, nil
		}
	}

	fetch := s.Fetch
	if fetch == nil {
		fetch = transport.GetHtml
	}
	logger.Info("Fetching match log page", url)
	data, err := fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch match log page: %w", err)
	}

	if cacheFile != "" {
		if err := os.MkdirAll(s.CachePath, 0755); err != nil {
			logger.Warn("Failed to create cache dir", s.CachePath, err)
		} else if err := os.WriteFile(cacheFile, data, 0644); err != nil {
			logger.Warn("Failed to write cache file", cacheFile, err)
		}
	}
	return data, nil
}

// ParseMatchLogs reads the "matchlogs_for" table of an FBref page.
// Header, spacer and undated rows are ignored. Unplayed fixtures are kept without a result.
func ParseMatchLogs(r io.Reader, team, comp string) ([]HistoricalMatchRow, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	table := doc.Find("table#matchlogs_for")
	if table.Length() == 0 {
		return nil, fmt.Errorf("no matchlogs_for table: %w", ErrNotEnoughData)
	}

	var rows []HistoricalMatchRow
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		if tr.HasClass("thead") || tr.HasClass("spacer") {
			return
		}
		cell := func(stat string) string {
			return strings.TrimSpace(tr.Find(fmt.Sprintf("[data-stat=%q]", stat)).First().Text())
		}
		if comp != "" && !strings.EqualFold(cell("comp"), comp) {
			return
		}

		dateText := cell("date")
		if dateText == "" {
			return
		}
		date, err := time.Parse("2006-01-02", dateText)
		if err != nil {
			logger.Debug("Skipping match log row with bad date", team, dateText)
			return
		}

		row := HistoricalMatchRow{
			Date:     date.UTC(),
			Team:     team,
			Opponent: cell("opponent"),
			Venue:    ParseVenue(cell("venue")),
			Result:   cell("result"),
		}
		if row.Opponent == "" {
			return
		}
		if gf := cell("goals_for"); gf != "" {
			v, err := util.ParseLeadingNumber(gf)
			if err != nil {
				logger.Debug("Skipping match log row with bad goals", team, gf)
				return
			}
			row.GoalsFor = v
		} else if row.HasResult() {
			return
		}
		if xg := cell("xg_for"); xg != "" {
			if v, err := strconv.ParseFloat(xg, 64); err == nil {
				row.ExpectedGoals = v
				row.HasExpectedGoals = true
			}
		}
		rows = append(rows, row)
	})
	return rows, nil
}
