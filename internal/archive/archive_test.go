package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmptyArchiveHasAllBuckets(t *testing.T) {
	raw, err := New().MarshalJSON()
	require.NoError(t, err)

	var got map[string]map[string][]Event
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	require.Len(t, got[Liquid], 5)
	require.Len(t, got[Illiquid], 6)
	for _, b := range Buckets {
		es, ok := got[b.Category][b.Sector]
		require.True(t, ok, "missing %s/%s", b.Category, b.Sector)
		require.NotNil(t, es)
		require.Empty(t, es)
	}
}

func TestMarshalKeepsFixedOrder(t *testing.T) {
	raw, err := New().MarshalJSON()
	require.NoError(t, err)

	s := string(raw)
	last := -1
	for _, b := range Buckets {
		idx := strings.Index(s, `"`+b.Sector+`"`)
		if idx <= last {
			t.Fatalf("bucket %s out of order", b.Sector)
		}
		last = idx
	}
	require.Less(t, strings.Index(s, Liquid), strings.Index(s, Illiquid))
}

func TestAddRejectsUnknownBucket(t *testing.T) {
	a := New()
	require.True(t, a.Add(Event{Bucket: BucketCrypto, SourceURL: "https://coindesk.com/x"}))
	require.False(t, a.Add(Event{Bucket: Bucket{"Liquid Assets", "Tulips"}}))
	require.Equal(t, 1, a.Len())
	require.Equal(t, 1, a.Dropped())
	require.Len(t, a.Events(BucketCrypto), 1)
}

func TestEventJSONShapes(t *testing.T) {
	stock, err := json.Marshal(Event{
		Bucket:            BucketStocks,
		Timestamp:         "2025-03-10T12:00:00",
		Ticker:            "SPY",
		Title:             "Markets rally",
		Source:            "Reuters",
		URL:               "https://reuters.com/a",
		MarketImpactScore: 0.85,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"timestamp":"2025-03-10T12:00:00","ticker":"SPY","title":"Markets rally","source":"Reuters","url":"https://reuters.com/a","market_impact_score":0.85}`, string(stock))

	news, err := json.Marshal(Event{
		Timestamp:         "20250310120000",
		SourceURL:         "https://ft.com/b",
		MarketImpactScore: 2.5,
		ThemesMatched:     []string{"ECON_BOND"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"timestamp":"20250310120000","source_url":"https://ft.com/b","market_impact_score":2.5,"themes_matched":["ECON_BOND"]}`, string(news))
}

func TestWriteUsesDatedFileName(t *testing.T) {
	dir := t.TempDir()
	a := New()
	a.Add(Event{Bucket: BucketBonds, SourceURL: "https://wsj.com/c", MarketImpactScore: 1.9})

	day := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	path, err := a.Write(dir, day, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "portfolio_intelligence_2025-03-10.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n    \"Liquid Assets\": {")

	var got map[string]map[string][]Event
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got[Liquid]["Bonds"], 1)
	require.Equal(t, "https://wsj.com/c", got[Liquid]["Bonds"][0].Link())
}
