package social

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// ErrMalformedRecord 上游返回的单条记录不是对象或缺少 id
var ErrMalformedRecord = errors.New("malformed record")

// Post 统一后的帖子结构，上游缺失的字段取零值
type Post struct {
	ID                string `json:"id"`
	Content           string `json:"content"`
	CreatedAt         string `json:"created_at"`
	URL               string `json:"url"`
	AuthorHandle      string `json:"author_handle"`
	AuthorDisplayName string `json:"author_display_name"`
	AuthorFollowers   int    `json:"author_followers"`
	AuthorVerified    bool   `json:"author_verified"`
	RepliesCount      int    `json:"replies_count"`
	ReblogsCount      int    `json:"reblogs_count"`
	FavouritesCount   int    `json:"favourites_count"`
}

// Engagement 回复 + 转发 + 点赞，每次读取时计算
func (p Post) Engagement() int {
	return p.RepliesCount + p.ReblogsCount + p.FavouritesCount
}

// CreatedTime 解析 created_at，失败返回零值
func (p Post) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

var blockBreaks = strings.NewReplacer("</p>", "</p> ", "<br>", " ", "<br/>", " ", "<br />", " ")

// Text 去掉 HTML 标签后的纯文本，用于关键词匹配
func (p Post) Text() string {
	if !strings.Contains(p.Content, "<") {
		return p.Content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(blockBreaks.Replace(p.Content)))
	if err != nil {
		return p.Content
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Account 账号信息
type Account struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	StatusesCount  int    `json:"statuses_count"`
	Verified       bool   `json:"verified"`
	Note           string `json:"note"`
	URL            string `json:"url"`
}

// ParsePost 把一条上游 status 转换为 Post
func ParsePost(raw gjson.Result) (Post, error) {
	if !raw.IsObject() {
		return Post{}, fmt.Errorf("%w: status is %s", ErrMalformedRecord, raw.Type)
	}
	id := raw.Get("id").String()
	if id == "" {
		return Post{}, fmt.Errorf("%w: status without id", ErrMalformedRecord)
	}
	acct := raw.Get("account")
	return Post{
		ID:                id,
		Content:           raw.Get("content").String(),
		CreatedAt:         raw.Get("created_at").String(),
		URL:               raw.Get("url").String(),
		AuthorHandle:      acct.Get("username").String(),
		AuthorDisplayName: acct.Get("display_name").String(),
		AuthorFollowers:   int(acct.Get("followers_count").Int()),
		AuthorVerified:    acct.Get("verified").Bool(),
		RepliesCount:      int(raw.Get("replies_count").Int()),
		ReblogsCount:      int(raw.Get("reblogs_count").Int()),
		FavouritesCount:   int(raw.Get("favourites_count").Int()),
	}, nil
}

// ParseAccount 把一条上游 account 转换为 Account
func ParseAccount(raw gjson.Result) (Account, error) {
	if !raw.IsObject() {
		return Account{}, fmt.Errorf("%w: account is %s", ErrMalformedRecord, raw.Type)
	}
	id := raw.Get("id").String()
	if id == "" {
		return Account{}, fmt.Errorf("%w: account without id", ErrMalformedRecord)
	}
	return Account{
		ID:             id,
		Username:       raw.Get("username").String(),
		DisplayName:    raw.Get("display_name").String(),
		FollowersCount: int(raw.Get("followers_count").Int()),
		FollowingCount: int(raw.Get("following_count").Int()),
		StatusesCount:  int(raw.Get("statuses_count").Int()),
		Verified:       raw.Get("verified").Bool(),
		Note:           raw.Get("note").String(),
		URL:            raw.Get("url").String(),
	}, nil
}
