package api

import (
	"github.com/LJTian/SectorPulse/internal/aggregator"
	"github.com/LJTian/SectorPulse/internal/social"
)

type SectorInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Hashtags    []string `json:"hashtags"`
	Description string   `json:"description"`
}

// PostResponse 对外输出的帖子，engagement 在输出时计算
type PostResponse struct {
	ID                string `json:"id"`
	URL               string `json:"url,omitempty"`
	Content           string `json:"content"`
	AuthorHandle      string `json:"author_handle"`
	AuthorDisplayName string `json:"author_display_name"`
	AuthorFollowers   int    `json:"author_followers"`
	AuthorVerified    bool   `json:"author_verified"`
	Engagement        int    `json:"engagement"`
	RepliesCount      int    `json:"replies_count"`
	ReblogsCount      int    `json:"reblogs_count"`
	FavouritesCount   int    `json:"favourites_count"`
	CreatedAt         string `json:"created_at,omitempty"`
}

type PostsResponse struct {
	Sector     string         `json:"sector,omitempty"`
	Hashtags   []string       `json:"hashtags"`
	Posts      []PostResponse `json:"posts"`
	Sources    []string       `json:"sources"`
	IsFiltered bool           `json:"is_filtered"`
}

type AccountsResponse struct {
	Sector   string           `json:"sector"`
	Accounts []social.Account `json:"accounts"`
	Sources  []string         `json:"sources"`
}

func newPostResponse(p social.Post) PostResponse {
	return PostResponse{
		ID:                p.ID,
		URL:               p.URL,
		Content:           p.Content,
		AuthorHandle:      p.AuthorHandle,
		AuthorDisplayName: p.AuthorDisplayName,
		AuthorFollowers:   p.AuthorFollowers,
		AuthorVerified:    p.AuthorVerified,
		Engagement:        p.Engagement(),
		RepliesCount:      p.RepliesCount,
		ReblogsCount:      p.ReblogsCount,
		FavouritesCount:   p.FavouritesCount,
		CreatedAt:         p.CreatedAt,
	}
}

// newPostsResponse 空列表输出 [] 而不是 null
func newPostsResponse(res aggregator.PostsResult) PostsResponse {
	out := PostsResponse{
		Sector:     res.Sector,
		Hashtags:   res.Hashtags,
		Posts:      make([]PostResponse, 0, len(res.Posts)),
		Sources:    res.Sources,
		IsFiltered: res.IsFiltered,
	}
	for _, p := range res.Posts {
		out.Posts = append(out.Posts, newPostResponse(p))
	}
	if out.Hashtags == nil {
		out.Hashtags = []string{}
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	return out
}
