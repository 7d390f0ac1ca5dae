package podds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dortmundLog = `Date,Team,Opp,Venue,GF,xG,Result
2025-05-10,Dortmund,Leverkusen,Home,4,2.1,W
2025-05-03,Dortmund,Wolfsburg,@,2 (4),1.4,D
17/05/2025,Dortmund,Freiburg,Away,1,,L
not-a-date,Dortmund,Mainz 05,Home,1,1.0,W
2025-05-24,Dortmund,Union Berlin,Home,,,
2025-04-26,Dortmund,Augsburg,Home,many,1.0,W
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestParseCorpusCSV(t *testing.T) {
	rows, err := ParseCorpusCSV(strings.NewReader(dortmundLog), "ignored")
	require.NoError(t, err)
	require.Len(t, rows, 4, "bad date and bad GF rows are skipped")

	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), rows[0].Date)
	assert.Equal(t, "Dortmund", rows[0].Team)
	assert.Equal(t, VenueHome, rows[0].Venue)
	assert.Equal(t, 4.0, rows[0].GoalsFor)
	assert.True(t, rows[0].HasExpectedGoals)
	assert.Equal(t, 2.1, rows[0].ExpectedGoals)

	assert.Equal(t, VenueAway, rows[1].Venue)
	assert.Equal(t, 2.0, rows[1].GoalsFor, "shoot-out score is ignored")

	assert.Equal(t, time.Date(2025, 5, 17, 0, 0, 0, 0, time.UTC), rows[2].Date)
	assert.False(t, rows[2].HasExpectedGoals)

	assert.False(t, rows[3].HasResult(), "fixture without a result is kept for the trainer to drop")
}

func TestParseCorpusCSVNeedsColumns(t *testing.T) {
	_, err := ParseCorpusCSV(strings.NewReader("Date,Opp,GF\n2025-01-01,X,1\n"), "T")
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestCSVCorpusRowsSkipsBadFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Bundesliga")
	writeFile(t, dir, "Dortmund.csv", dortmundLog)
	// no Team column, the file name is used
	writeFile(t, dir, "Bayern_Munich.csv", "\ufeffDate,Opponent,Venue,GF,xG,Result\n2025-05-10,Freiburg,Home,3,2.5,W\n")
	writeFile(t, dir, "broken.csv", "this is not,\"a match log\n")
	writeFile(t, dir, "notes.txt", "ignored")

	corpus := &CSVCorpus{Root: root}
	rows, err := corpus.Rows(context.Background(), "Bundesliga")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Bayern Munich", rows[0].Team)
	assert.Equal(t, "Freiburg", rows[0].Opponent)
}

func TestCSVCorpusMissingLeague(t *testing.T) {
	corpus := &CSVCorpus{Root: t.TempDir()}
	_, err := corpus.Rows(context.Background(), "Ligue 1")
	assert.ErrorIs(t, err, ErrNotEnoughData)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Serie A"), "empty.csv", "Date,Opp,Venue,GF,Result\n")
	_, err = (&CSVCorpus{Root: root}).Rows(context.Background(), "Serie A")
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestCSVCorpusRejectsLeaguePaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Dortmund.csv", dortmundLog)
	corpus := &CSVCorpus{Root: filepath.Join(root, "leagues")}

	for _, league := range []string{"..", ".", "", "../leagues", `Serie A\..`} {
		_, err := corpus.Rows(context.Background(), league)
		assert.ErrorIs(t, err, ErrUnknownLeague, league)
	}
	_, err := corpus.SaveCorpusFile("..", "Dortmund", addMatch(latestDay, "Dortmund", "Mainz 05", 1, 0))
	assert.ErrorIs(t, err, ErrUnknownLeague)
	_, err = os.Stat(filepath.Join(root, "Dortmund.csv"))
	require.NoError(t, err, "file outside the corpus is untouched")
}

func TestWriteCorpusCSVRoundTripsThroughParser(t *testing.T) {
	rows := addMatch(latestDay, "Freiburg", "Mainz 05", 2, 1)
	rows[0].ExpectedGoals, rows[0].HasExpectedGoals = 1.75, true

	var buf bytes.Buffer
	require.NoError(t, WriteCorpusCSV(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "Date,Team,Opp,Venue,GF,xG,Result\n"))

	parsed, err := ParseCorpusCSV(&buf, "")
	require.NoError(t, err)
	assert.Equal(t, rows, parsed)
}

func TestSaveCorpusFile(t *testing.T) {
	corpus := &CSVCorpus{Root: t.TempDir()}
	path, err := corpus.SaveCorpusFile("Bundesliga", "M'gladbach", addMatch(latestDay, "M'gladbach", "Bochum", 1, 0)[:1])
	require.NoError(t, err)
	assert.Equal(t, "Mgladbach.csv", filepath.Base(path))

	rows, err := corpus.Rows(context.Background(), "Bundesliga")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "M'gladbach", rows[0].Team)
}
