package reddit

import (
	"math"
	"strings"
)

const postFullNamePrefix = "t3_"

// Post is the subset of a Reddit link listing consumed by the For-You pipeline.
type Post struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Thumbnail   string  `json:"thumbnail"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	IsSelf      bool    `json:"is_self"`
	Over18      bool    `json:"over_18"`
	Selftext    string  `json:"selftext"`
}

// CreatedUTCSeconds returns the creation time truncated to whole seconds.
func (p Post) CreatedUTCSeconds() int64 {
	return int64(math.Floor(p.CreatedUTC))
}

// NormalizePostID strips the "t3_" fullname prefix so ids from listings and clients compare equal.
func NormalizePostID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return strings.TrimPrefix(trimmed, postFullNamePrefix)
}

// FullName returns the "t3_"-prefixed fullname Reddit expects on write endpoints.
func FullName(postID string) string {
	return postFullNamePrefix + NormalizePostID(postID)
}
