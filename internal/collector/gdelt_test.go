package collector

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/processor"
)

func gkgRow(date, domain, doc, themes, tone string) string {
	cols := make([]string, 27)
	cols[0] = "rec-" + date
	cols[gkgDate] = date
	cols[gkgSourceName] = domain
	cols[gkgDocument] = doc
	cols[gkgThemes] = themes
	cols[gkgTone] = tone
	return strings.Join(cols, "\t")
}

func TestParseGKGClassifiesTrustedRows(t *testing.T) {
	rows := []string{
		gkgRow("20250310120000", "reuters.com", "https://www.reuters.com/markets/bonds-1", "ECON_BOND;ECON_DEBT;TAX_FNCACT", "-5,1,6,40,0"),
		gkgRow("20250310120000", "example.com", "https://example.com/bonds", "ECON_BOND", "-9,1,6,90,0"),
		gkgRow("20250310120000", "ft.com", "https://ft.com/low", "ECON_BOND", "-1,0,0,10"),
		gkgRow("20250310120000", "ft.com", "https://ft.com/edge", "ECON_BOND", "-3,0,0,50"),
		gkgRow("20250310120000", "artnews.com", "https://www.artnews.com/market/sothebys-auction-record-123", "", "3,0,0,80"),
		gkgRow("20250310120000", "coindesk.com", "", "CRYPTO", "-4.4444,0,0,50"),
		gkgRow("20250310120000", "wsj.com", "https://wsj.com/bad", "ECON_BOND", "abc"),
		"too\tshort",
	}
	skips := processor.NewSkipCounter(nil)
	rs := newRuleSet(DefaultRules, TrustedDomains)

	events, err := parseGKG(strings.NewReader(strings.Join(rows, "\n")+"\n"), rs, skips)
	if err != nil {
		t.Fatalf("parseGKG error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}

	bonds := events[0]
	if bonds.Bucket != archive.BucketBonds || bonds.MarketImpactScore != 2 {
		t.Fatalf("unexpected bonds event: %+v", bonds)
	}
	if !reflect.DeepEqual(bonds.ThemesMatched, []string{"ECON_BOND", "ECON_DEBT"}) {
		t.Fatalf("unexpected themes: %v", bonds.ThemesMatched)
	}
	if bonds.SourceURL != "https://www.reuters.com/markets/bonds-1" || bonds.Timestamp != "20250310120000" {
		t.Fatalf("unexpected bonds record: %+v", bonds)
	}

	art := events[1]
	if art.Bucket != archive.BucketArt || art.MarketImpactScore != 2.4 {
		t.Fatalf("unexpected art event: %+v", art)
	}
	if !reflect.DeepEqual(art.ThemesMatched, []string{"sothebys", "auction record"}) {
		t.Fatalf("unexpected art keywords: %v", art.ThemesMatched)
	}

	crypto := events[2]
	if crypto.Bucket != archive.BucketCrypto || crypto.MarketImpactScore != 2.22 {
		t.Fatalf("unexpected crypto event: %+v", crypto)
	}
	// 没有文档地址时退回来源域名
	if crypto.SourceURL != "coindesk.com" {
		t.Fatalf("expected domain fallback, got %q", crypto.SourceURL)
	}

	if skips.Count() != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", skips.Count())
	}
}

func TestImpactScore(t *testing.T) {
	got, err := impactScore("-2.5,1.0,3.5,60,12")
	if err != nil {
		t.Fatalf("impactScore error: %v", err)
	}
	if got.String() != "1.5" {
		t.Fatalf("expected 1.5, got %s", got)
	}
	if _, err := impactScore("1,2"); err == nil {
		t.Fatalf("expected error for short tone")
	}
	if _, err := impactScore("NaN,0,0,10"); err == nil {
		t.Fatalf("expected error for NaN tone")
	}
}

func TestDayURL(t *testing.T) {
	day := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	got := DayURL("http://data.gdeltproject.org/gdeltv2/", day)
	want := "http://data.gdeltproject.org/gdeltv2/20250309120000.gkg.csv.zip"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func zipped(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestGDELTFetcherDownloadsEachDayAndSkipsMissing(t *testing.T) {
	// 0xE9 是 Latin-1 的 é
	row := gkgRow("20250310120000", "cnbc.com", "https://cnbc.com/caf\xe9-solar", "ENV_SOLAR", "-6,0,0,50")
	body := zipped(t, "20250310120000.gkg.csv", []byte(row+"\n"))

	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path != "/20250310120000.gkg.csv.zip" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(body)
	}))
	defer srv.Close()

	f := &GDELTFetcher{
		BaseURL:  srv.URL,
		DaysBack: 3,
		Now:      func() time.Time { return time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC) },
	}
	events, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(requested) != 3 {
		t.Fatalf("expected 3 downloads, got %v", requested)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	ev := events[0]
	if ev.Bucket != archive.BucketEnergy || ev.MarketImpactScore != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SourceURL != "https://cnbc.com/café-solar" {
		t.Fatalf("latin-1 not decoded: %q", ev.SourceURL)
	}
}

func TestGDELTFetcherStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &GDELTFetcher{BaseURL: "http://127.0.0.1:1", DaysBack: 2}
	if _, err := f.Fetch(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
