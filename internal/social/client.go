package social

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/LJTian/SectorPulse/internal/metrics"
)

const (
	maxResponseBytes  = 4 << 20 // 4MB
	hashtagPageMax    = 40
	trendingMax       = 20
	statusesPageMax   = 40
	searchPageMax     = 40
	maxSearchPages    = 10
	maxStatusPages    = 20
	defaultTimeout    = 15 * time.Second
	defaultUserAgent  = "SectorPulse/1.0"
	metricsSourceName = "social"
)

var (
	ErrNoCredentials = errors.New("no credentials provided: set TRUTHSOCIAL_USERNAME/PASSWORD or TRUTHSOCIAL_TOKEN")
	ErrUnauthorized  = errors.New("upstream rejected credentials")
)

// Credentials token 优先；否则用用户名密码走 password grant 换取 token
type Credentials struct {
	Token        string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

func (c Credentials) Valid() bool {
	return c.Token != "" || (c.Username != "" && c.Password != "")
}

// Source 聚合层依赖的上游抽象，返回未经解析的原始记录
type Source interface {
	HashtagTimeline(ctx context.Context, tag string, limit int) ([]gjson.Result, error)
	Trending(ctx context.Context, limit int) ([]gjson.Result, error)
	AccountStatuses(ctx context.Context, handle string, since time.Time, limit int) ([]gjson.Result, error)
	SearchStatuses(ctx context.Context, query string, limit int, keep Keep) ([]gjson.Result, error)
	SearchAccounts(ctx context.Context, query string, limit int, keep Keep) ([]gjson.Result, error)
}

// Client 访问 Mastodon 兼容 REST 接口的客户端；同一个实例内的请求串行发出
type Client struct {
	baseURL   string
	creds     Credentials
	http      *http.Client
	pageDelay time.Duration
	sleep     func(context.Context, time.Duration) error
	log       *logrus.Entry

	mu    sync.Mutex
	token string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPageDelay 翻页之间的固定等待时间
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		creds:     creds,
		http:      &http.Client{Timeout: defaultTimeout},
		pageDelay: 500 * time.Millisecond,
		sleep:     Sleep,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		token:     creds.Token,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sleep 可被 ctx 取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HashtagTimeline 单次请求话题时间线，最多 40 条
func (c *Client) HashtagTimeline(ctx context.Context, tag string, limit int) ([]gjson.Result, error) {
	q := url.Values{"limit": {strconv.Itoa(clamp(limit, 1, hashtagPageMax))}}
	res, err := c.getJSON(ctx, "/api/v1/timelines/tag/"+url.PathEscape(tag), q)
	if err != nil {
		return nil, err
	}
	return arrayOf(res, "hashtag timeline")
}

// Trending 全站热门，单次请求最多 20 条
func (c *Client) Trending(ctx context.Context, limit int) ([]gjson.Result, error) {
	q := url.Values{"limit": {strconv.Itoa(clamp(limit, 1, trendingMax))}}
	res, err := c.getJSON(ctx, "/api/v1/truth/trending/truths", q)
	if err != nil {
		return nil, err
	}
	return arrayOf(res, "trending")
}

// LookupAccount 通过用户名查询账号
func (c *Client) LookupAccount(ctx context.Context, handle string) (gjson.Result, error) {
	res, err := c.getJSON(ctx, "/api/v1/accounts/lookup", url.Values{"acct": {handle}})
	if err != nil {
		return gjson.Result{}, err
	}
	if !res.IsObject() || res.Get("id").String() == "" {
		return gjson.Result{}, fmt.Errorf("social: lookup %s: %w", handle, ErrMalformedRecord)
	}
	return res, nil
}

// AccountStatuses 按 max_id 向前翻页，直到拿满 limit 条或遇到早于 since 的帖子。
// 置顶帖可能很旧，遇到时跳过而不是终止翻页。
func (c *Client) AccountStatuses(ctx context.Context, handle string, since time.Time, limit int) ([]gjson.Result, error) {
	acct, err := c.LookupAccount(ctx, handle)
	if err != nil {
		return nil, err
	}
	id := acct.Get("id").String()

	var (
		out   []gjson.Result
		maxID string
	)
	for page := 0; page < maxStatusPages && len(out) < limit; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.pageDelay); err != nil {
				return out, err
			}
		}
		q := url.Values{
			"limit":           {strconv.Itoa(statusesPageMax)},
			"exclude_replies": {"true"},
		}
		if maxID != "" {
			q.Set("max_id", maxID)
		}
		res, err := c.getJSON(ctx, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", q)
		if err != nil {
			return out, err
		}
		items, err := arrayOf(res, "account statuses")
		if err != nil {
			return out, err
		}
		if len(items) == 0 {
			break
		}

		reachedCutoff := false
		for _, it := range items {
			if !since.IsZero() {
				if created, err := time.Parse(time.RFC3339, it.Get("created_at").String()); err == nil && created.Before(since) {
					if it.Get("pinned").Bool() {
						continue
					}
					reachedCutoff = true
					break
				}
			}
			out = append(out, it)
			if len(out) >= limit {
				break
			}
		}
		if reachedCutoff {
			break
		}
		next := items[len(items)-1].Get("id").String()
		if next == "" || next == maxID {
			break
		}
		maxID = next
	}
	return out, nil
}

// Keep 搜索结果的过滤条件，只有返回 true 的记录计入 limit；nil 表示全部保留
type Keep func(gjson.Result) bool

// SearchStatuses 全文搜索帖子
func (c *Client) SearchStatuses(ctx context.Context, query string, limit int, keep Keep) ([]gjson.Result, error) {
	return c.search(ctx, "statuses", query, limit, keep)
}

// SearchAccounts 搜索账号
func (c *Client) SearchAccounts(ctx context.Context, query string, limit int, keep Keep) ([]gjson.Result, error) {
	return c.search(ctx, "accounts", query, limit, keep)
}

// search 按 offset 翻页，直到过滤后凑够 limit 条或达到页数上限
func (c *Client) search(ctx context.Context, kind, query string, limit int, keep Keep) ([]gjson.Result, error) {
	var (
		out    []gjson.Result
		offset int
	)
	for page := 0; page < maxSearchPages && len(out) < limit; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.pageDelay); err != nil {
				return out, err
			}
		}
		q := url.Values{
			"q":      {query},
			"type":   {kind},
			"limit":  {strconv.Itoa(searchPageMax)},
			"offset": {strconv.Itoa(offset)},
		}
		res, err := c.getJSON(ctx, "/api/v2/search", q)
		if err != nil {
			return out, err
		}
		items := res.Get(kind).Array()
		if len(items) == 0 {
			break
		}
		offset += len(items)
		for _, it := range items {
			if keep != nil && !keep(it) {
				continue
			}
			out = append(out, it)
			if len(out) >= limit {
				break
			}
		}
		if len(items) < searchPageMax {
			break
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return gjson.Result{}, err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("social: build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	res, err := c.do(req, path)
	if errors.Is(err, ErrUnauthorized) {
		c.dropToken()
	}
	return res, err
}

func (c *Client) do(req *http.Request, path string) (gjson.Result, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(metricsSourceName, "error").Inc()
		return gjson.Result{}, fmt.Errorf("social: %s: %w", path, err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(metricsSourceName, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("social: read %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gjson.Result{}, fmt.Errorf("social: %s: status %d: %w", path, resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, fmt.Errorf("social: %s: unexpected status %d", path, resp.StatusCode)
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("social: %s: invalid json body", path)
	}
	return gjson.ParseBytes(body), nil
}

// accessToken 首次调用时用用户名密码登录，之后复用缓存的 token
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	if !c.creds.Valid() {
		return "", ErrNoCredentials
	}

	form := url.Values{
		"grant_type":    {"password"},
		"username":      {c.creds.Username},
		"password":      {c.creds.Password},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"redirect_uri":  {"urn:ietf:wg:oauth:2.0:oob"},
		"scope":         {"read"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("social: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", defaultUserAgent)

	res, err := c.do(req, "/oauth/token")
	if err != nil {
		return "", fmt.Errorf("social: login as %s: %w", c.creds.Username, err)
	}
	token := res.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("social: login as %s: response has no access_token: %w", c.creds.Username, ErrUnauthorized)
	}
	c.log.WithField("username", c.creds.Username).Info("social: logged in")
	c.token = token
	return token, nil
}

// dropToken 只丢弃通过登录换来的 token，静态配置的 token 保留
func (c *Client) dropToken() {
	if c.creds.Token != "" {
		return
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func arrayOf(res gjson.Result, what string) ([]gjson.Result, error) {
	if !res.IsArray() {
		return nil, fmt.Errorf("social: %s: expected array, got %s", what, res.Type)
	}
	return res.Array(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
