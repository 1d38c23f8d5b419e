package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/LJTian/SectorPulse/internal/sector"
	"github.com/LJTian/SectorPulse/internal/social"
)

type fakeSource struct {
	hashtags   map[string]string
	trending   string
	accounts   map[string]string
	accountErr map[string]error
	search     string
	people     map[string]string

	hashtagCalls []string
	limits       []int
	since        time.Time
}

func results(js string) []gjson.Result {
	if js == "" {
		return nil
	}
	return gjson.Parse(js).Array()
}

func (f *fakeSource) HashtagTimeline(_ context.Context, tag string, limit int) ([]gjson.Result, error) {
	f.hashtagCalls = append(f.hashtagCalls, tag)
	f.limits = append(f.limits, limit)
	js, ok := f.hashtags[tag]
	if !ok {
		return nil, fmt.Errorf("tag %s: status 500", tag)
	}
	return results(js), nil
}

func (f *fakeSource) Trending(context.Context, int) ([]gjson.Result, error) {
	return results(f.trending), nil
}

func (f *fakeSource) AccountStatuses(_ context.Context, handle string, since time.Time, _ int) ([]gjson.Result, error) {
	f.since = since
	if err := f.accountErr[handle]; err != nil {
		return nil, err
	}
	return results(f.accounts[handle]), nil
}

func (f *fakeSource) SearchStatuses(_ context.Context, _ string, limit int, keep social.Keep) ([]gjson.Result, error) {
	return keepUpTo(results(f.search), limit, keep), nil
}

func (f *fakeSource) SearchAccounts(_ context.Context, q string, limit int, keep social.Keep) ([]gjson.Result, error) {
	return keepUpTo(results(f.people[q]), limit, keep), nil
}

func keepUpTo(items []gjson.Result, limit int, keep social.Keep) []gjson.Result {
	var out []gjson.Result
	for _, it := range items {
		if len(out) >= limit {
			break
		}
		if keep == nil || keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func post(id, content string, replies, reblogs, favs int) string {
	return fmt.Sprintf(`{"id":%q,"content":%q,"replies_count":%d,"reblogs_count":%d,"favourites_count":%d,"account":{"acct":"u%s","followers_count":%d}}`,
		id, content, replies, reblogs, favs, id, favs*10)
}

func list(items ...string) string {
	out := "["
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out + "]"
}

const testCatalog = `
government_accounts: [gov1, gov2]
sectors:
  - key: crypto
    name: Crypto currencies
    queries: [bitcoin, btc, ethereum]
    hashtags: [bitcoin, ethereum, crypto]
    accounts: [bitcoin, crypto]
  - key: real-estate
    name: Real estate
    queries: [real estate, housing]
    hashtags: [realestate]
`

type sleepRecorder struct{ calls []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newTestService(t *testing.T, src social.Source) (*Service, *sleepRecorder) {
	t.Helper()
	cat, err := sector.Parse([]byte(testCatalog))
	require.NoError(t, err)
	rec := &sleepRecorder{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := New(src, cat, DefaultOptions(), WithSleep(rec.sleep), WithClock(func() time.Time { return now }))
	return svc, rec
}

func ids(posts []social.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestSectorPostsByHashtagDedupesAndSortsByFavourites(t *testing.T) {
	src := &fakeSource{hashtags: map[string]string{
		"bitcoin":  list(post("1", "btc", 0, 0, 5), post("2", "btc", 0, 0, 9)),
		"ethereum": list(post("2", "dup", 0, 0, 9), post("3", "eth", 50, 0, 1)),
		"crypto":   list(`"not an object"`, post("4", "c", 0, 0, 7)),
	}}
	svc, rec := newTestService(t, src)

	res, err := svc.SectorPostsByHashtag(context.Background(), "crypto", 40, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"2", "4", "1"}, ids(res.Posts))
	require.Equal(t, []string{"#bitcoin", "#ethereum", "#crypto"}, res.Sources)
	require.EqualValues(t, 1, res.Skipped)
	require.Len(t, rec.calls, 2, "delay between consecutive hashtag calls only")
	require.Equal(t, []int{40, 40, 40}, src.limits)
}

func TestSectorPostsByHashtagCapsHashtags(t *testing.T) {
	src := &fakeSource{hashtags: map[string]string{"bitcoin": "[]", "ethereum": "[]", "crypto": "[]"}}
	svc, _ := newTestService(t, src)
	svc.opts.MaxHashtags = 2

	_, err := svc.SectorPostsByHashtag(context.Background(), "crypto", 10, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"bitcoin", "ethereum"}, src.hashtagCalls)
}

func TestSectorPostsByHashtagAllFailing(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	_, err := svc.SectorPostsByHashtag(context.Background(), "crypto", 10, 5)
	require.Error(t, err)
}

func TestUnknownSector(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	_, err := svc.SectorPostsByHashtag(ctx, "gems", 10, 5)
	require.True(t, errors.Is(err, sector.ErrUnknownSector))
	_, err = svc.SectorTrending(ctx, "gems", 10)
	require.True(t, errors.Is(err, sector.ErrUnknownSector))
	_, err = svc.GovernmentPosts(ctx, "gems", 10)
	require.True(t, errors.Is(err, sector.ErrUnknownSector))
	_, err = svc.SectorAccounts(ctx, "gems", 10, 0)
	require.True(t, errors.Is(err, sector.ErrUnknownSector))
}

func TestSectorTrendingMergesFilteredGlobalTrending(t *testing.T) {
	src := &fakeSource{
		hashtags: map[string]string{
			"bitcoin":  list(post("1", "btc", 1, 1, 1)),
			"ethereum": "[]",
			"crypto":   "[]",
		},
		trending: list(
			post("1", "<p>Bitcoin again</p>", 100, 0, 0),
			post("5", "<p>ETHEREUM is up</p>", 10, 0, 0),
			post("6", "<p>Weather today</p>", 500, 0, 0),
		),
	}
	svc, _ := newTestService(t, src)

	res, err := svc.SectorTrending(context.Background(), "crypto", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"5", "1"}, ids(res.Posts))
	require.Equal(t, 3, res.Posts[1].Engagement(), "first occurrence wins on duplicates")
	require.Contains(t, res.Sources, "trending")
}

func TestGovernmentPostsFiltersByKeyword(t *testing.T) {
	src := &fakeSource{accounts: map[string]string{
		"gov1": list(post("a", "<p>We love <b>Bitcoin</b></p>", 1, 1, 1), post("b", "<p>Real estate boom</p>", 100, 100, 100)),
		"gov2": list(post("c", "btc reserve", 5, 5, 5)),
	}}
	svc, rec := newTestService(t, src)

	res, err := svc.GovernmentPosts(context.Background(), "crypto", 10)
	require.NoError(t, err)
	require.True(t, res.IsFiltered)
	require.Equal(t, []string{"c", "a"}, ids(res.Posts))
	require.Equal(t, []string{"@gov1", "@gov2"}, res.Sources)
	require.Equal(t, time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC), src.since)
	require.Len(t, rec.calls, 1)
}

func TestGovernmentPostsFallsBackWhenNothingMatches(t *testing.T) {
	src := &fakeSource{accounts: map[string]string{
		"gov1": list(post("a", "hello", 1, 0, 0), post("b", "world", 3, 0, 0)),
		"gov2": "[]",
	}}
	svc, _ := newTestService(t, src)

	res, err := svc.GovernmentPosts(context.Background(), "crypto", 1)
	require.NoError(t, err)
	require.False(t, res.IsFiltered)
	require.Equal(t, []string{"b"}, ids(res.Posts))
}

func TestGovernmentPostsSkipsFailingAccount(t *testing.T) {
	src := &fakeSource{
		accounts:   map[string]string{"gov2": list(post("c", "bitcoin", 0, 0, 1))},
		accountErr: map[string]error{"gov1": errors.New("boom")},
	}
	svc, _ := newTestService(t, src)

	res, err := svc.GovernmentPosts(context.Background(), "crypto", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, ids(res.Posts))
	require.Equal(t, []string{"@gov1", "@gov2"}, res.Sources, "failed accounts are still listed as consulted")
}

func TestGovernmentPostsAllAccountsFailing(t *testing.T) {
	src := &fakeSource{accountErr: map[string]error{
		"gov1": social.ErrUnauthorized,
		"gov2": social.ErrUnauthorized,
	}}
	svc, _ := newTestService(t, src)

	_, err := svc.GovernmentPosts(context.Background(), "crypto", 10)
	require.ErrorIs(t, err, social.ErrUnauthorized)
}

func TestTopPostsRanksByEngagement(t *testing.T) {
	src := &fakeSource{hashtags: map[string]string{
		"bitcoin":  list(post("1", "a", 0, 0, 9), post("2", "b", 20, 0, 0)),
		"ethereum": "[]",
		"crypto":   "[]",
	}}
	svc, _ := newTestService(t, src)

	res, err := svc.TopPosts(context.Background(), "crypto", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, ids(res.Posts))
	require.Equal(t, 2, src.limits[0])
}

func TestSectorAccountsFiltersAndDedupes(t *testing.T) {
	src := &fakeSource{people: map[string]string{
		"bitcoin": `[{"id":"1","username":"btc","followers_count":500},{"id":"2","username":"small","followers_count":5}]`,
		"crypto":  `[{"id":"1","username":"btc","followers_count":500},{"id":"3","username":"big","followers_count":900}]`,
	}}
	svc, _ := newTestService(t, src)

	res, err := svc.SectorAccounts(context.Background(), "crypto", 10, 100)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 2)
	require.Equal(t, "3", res.Accounts[0].ID)
	require.Equal(t, "1", res.Accounts[1].ID)
}

func TestCustomQueryFilters(t *testing.T) {
	src := &fakeSource{search: list(
		`{"id":"1","content":"x","favourites_count":3,"account":{"acct":"a","followers_count":10,"verified":true}}`,
		`{"id":"2","content":"y","favourites_count":8,"account":{"acct":"b","followers_count":10,"verified":false}}`,
		`{"id":"3","content":"z","favourites_count":9,"account":{"acct":"c","followers_count":1,"verified":true}}`,
	)}
	svc, _ := newTestService(t, src)

	res, err := svc.CustomQuery(context.Background(), "gold", 10, 5, true)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(res.Posts))

	res, err = svc.CustomQuery(context.Background(), "gold", 10, 0, false)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "2", "1"}, ids(res.Posts))
}

func TestCustomQueryPagesPastFilteredFirstPage(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/search", func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		var b strings.Builder
		b.WriteString(`{"statuses":[`)
		if r.URL.Query().Get("offset") == "0" {
			// 前两条作者未认证，其余 38 条已认证
			for i := 0; i < 40; i++ {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, `{"id":"%d","content":"gold","favourites_count":%d,"account":{"acct":"u%d","followers_count":10,"verified":%t}}`,
					i, i, i, i >= 2)
			}
		}
		b.WriteString(`]}`)
		fmt.Fprint(w, b.String())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	noSleep := func(context.Context, time.Duration) error { return nil }
	client := social.NewClient(srv.URL, social.Credentials{Token: "tok"}, social.WithSleep(noSleep), social.WithHTTPClient(srv.Client()))
	svc, _ := newTestService(t, client)

	res, err := svc.CustomQuery(context.Background(), "gold", 2, 0, true)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "2"}, ids(res.Posts))
	require.Equal(t, []string{"0"}, offsets)
}

func TestCustomQueryContinuesToNextPage(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/search", func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		var b strings.Builder
		b.WriteString(`{"statuses":[`)
		if offset == "0" {
			// 整页只有一条认证作者
			for i := 0; i < 40; i++ {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, `{"id":"p%d","content":"gold","account":{"acct":"u","verified":%t}}`, i, i == 0)
			}
		} else {
			b.WriteString(`{"id":"q0","content":"gold","favourites_count":5,"account":{"acct":"v","verified":true}}`)
		}
		b.WriteString(`]}`)
		fmt.Fprint(w, b.String())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	noSleep := func(context.Context, time.Duration) error { return nil }
	client := social.NewClient(srv.URL, social.Credentials{Token: "tok"}, social.WithSleep(noSleep), social.WithHTTPClient(srv.Client()))
	svc, _ := newTestService(t, client)

	res, err := svc.CustomQuery(context.Background(), "gold", 2, 0, true)
	require.NoError(t, err)
	require.Equal(t, []string{"q0", "p0"}, ids(res.Posts))
	require.Equal(t, []string{"0", "40"}, offsets)
}

func TestSectorAccountsLimitCountsOnlyQualifyingAccounts(t *testing.T) {
	src := &fakeSource{people: map[string]string{
		"bitcoin": `[{"id":"1","followers_count":5},{"id":"2","followers_count":6},{"id":"3","followers_count":700}]`,
		"crypto":  `[]`,
	}}
	svc, _ := newTestService(t, src)

	res, err := svc.SectorAccounts(context.Background(), "crypto", 1, 100)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.Equal(t, "3", res.Accounts[0].ID)
	require.Equal(t, []string{"bitcoin", "crypto"}, res.Sources)
}
