package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

const (
	defaultBaseURL       = "https://oauth.reddit.com"
	defaultUserAgent     = "read-api/1.0"
	defaultTimeout       = 10 * time.Second
	subscriptionPageSize = 100
	maxSubscriptionPages = 3
)

var (
	// ErrRateLimited indicates Reddit returned HTTP 429.
	ErrRateLimited = errors.New("reddit: rate limited")
	// ErrUnauthorized indicates the access token was rejected.
	ErrUnauthorized = errors.New("reddit: unauthorized")
	// ErrUnavailable covers transport failures and 5xx responses.
	ErrUnavailable = errors.New("reddit: unavailable")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("reddit: not found")
)

// ClientConfig configures the Reddit OAuth API client.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the Reddit OAuth API on behalf of a user access token.
type Client struct {
	http *resty.Client
}

// NewClient constructs a Client with the provided configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("reddit: invalid base url: %w", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	httpClient.JSONMarshal = json.Marshal
	httpClient.JSONUnmarshal = json.Unmarshal

	return &Client{http: httpClient}, nil
}

type listingResponse struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string `json:"kind"`
			Data Post   `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (l listingResponse) posts() []Post {
	posts := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		posts = append(posts, child.Data)
	}
	return posts
}

type subredditListingResponse struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data struct {
				DisplayName string `json:"display_name"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type identityResponse struct {
	Name string `json:"name"`
}

// ListTopPosts returns the ranked listing for a subreddit.
func (c *Client) ListTopPosts(ctx context.Context, token, subreddit string, limit int) ([]Post, error) {
	name := strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if name == "" {
		return nil, fmt.Errorf("%w: empty subreddit", ErrNotFound)
	}
	var listing listingResponse
	err := c.get(ctx, token, "/r/"+url.PathEscape(name)+"/hot", map[string]string{
		"limit":    strconv.Itoa(limit),
		"raw_json": "1",
	}, &listing)
	if err != nil {
		return nil, err
	}
	return listing.posts(), nil
}

// GetByID fetches a single post by id or fullname.
func (c *Client) GetByID(ctx context.Context, token, postID string) (Post, error) {
	id := NormalizePostID(postID)
	if id == "" {
		return Post{}, fmt.Errorf("%w: empty post id", ErrNotFound)
	}
	var listing listingResponse
	if err := c.get(ctx, token, "/by_id/"+FullName(id), map[string]string{"raw_json": "1"}, &listing); err != nil {
		return Post{}, err
	}
	posts := listing.posts()
	if len(posts) == 0 {
		return Post{}, ErrNotFound
	}
	return posts[0], nil
}

// ListSavedPosts returns the authenticated user's saved links, most recent first.
func (c *Client) ListSavedPosts(ctx context.Context, token string, limit int) ([]Post, error) {
	var identity identityResponse
	if err := c.get(ctx, token, "/api/v1/me", nil, &identity); err != nil {
		return nil, err
	}
	if strings.TrimSpace(identity.Name) == "" {
		return nil, ErrUnauthorized
	}
	var listing listingResponse
	err := c.get(ctx, token, "/user/"+url.PathEscape(identity.Name)+"/saved", map[string]string{
		"limit":    strconv.Itoa(limit),
		"type":     "links",
		"raw_json": "1",
	}, &listing)
	if err != nil {
		return nil, err
	}
	return listing.posts(), nil
}

// MarkSaved saves the post on the user's Reddit account.
func (c *Client) MarkSaved(ctx context.Context, token, postID string) error {
	request := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"id": FullName(postID)})
	if token != "" {
		request.SetAuthToken(token)
	}
	response, err := request.Post("/api/save")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return classifyStatus(response)
}

// ListSubscriptions returns the display names of the user's subscribed subreddits.
func (c *Client) ListSubscriptions(ctx context.Context, token string) ([]string, error) {
	names := make([]string, 0, subscriptionPageSize)
	after := ""
	for page := 0; page < maxSubscriptionPages; page++ {
		query := map[string]string{"limit": strconv.Itoa(subscriptionPageSize)}
		if after != "" {
			query["after"] = after
		}
		var listing subredditListingResponse
		if err := c.get(ctx, token, "/subreddits/mine/subscriber", query, &listing); err != nil {
			return nil, err
		}
		for _, child := range listing.Data.Children {
			if name := strings.TrimSpace(child.Data.DisplayName); name != "" {
				names = append(names, name)
			}
		}
		after = listing.Data.After
		if after == "" {
			break
		}
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, token, path string, query map[string]string, out any) error {
	request := c.http.R().SetContext(ctx).SetResult(out)
	if token != "" {
		request.SetAuthToken(token)
	}
	if len(query) > 0 {
		request.SetQueryParams(query)
	}
	response, err := request.Get(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return classifyStatus(response)
}

func classifyStatus(response *resty.Response) error {
	status := response.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}
