package foryou

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Action enumerates the triage decisions a user can take on a post.
type Action string

const (
	ActionSaved         Action = "saved"
	ActionAlreadyRead   Action = "already_read"
	ActionNotInterested Action = "not_interested"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", errInvalidAction, raw)
	}
	return action, nil
}

// Valid reports whether the action is one of the three recognized decisions.
func (a Action) Valid() bool {
	switch a {
	case ActionSaved, ActionAlreadyRead, ActionNotInterested:
		return true
	default:
		return false
	}
}

func (a Action) String() string {
	return string(a)
}

var subredditNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// NormalizeSubreddit strips an "r/" prefix, validates the name and lowercases it.
func NormalizeSubreddit(raw string) (string, error) {
	name := stripSubredditPrefix(raw)
	if !subredditNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", errInvalidSubreddit, raw)
	}
	return strings.ToLower(name), nil
}

func stripSubredditPrefix(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, "/")
	if len(name) >= 2 && strings.EqualFold(name[:2], "r/") {
		name = name[2:]
	}
	return strings.TrimSpace(name)
}

// Affinity is a predicted interest strength for one subreddit.
type Affinity struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Persona is the stored interest profile. It is always replaced wholesale.
type Persona struct {
	UserID              string                        `gorm:"column:user_id;primaryKey;size:190;not null"`
	Keywords            datatypes.JSONSlice[string]   `gorm:"column:keywords"`
	Topics              datatypes.JSONSlice[string]   `gorm:"column:topics"`
	SubredditAffinities datatypes.JSONSlice[Affinity] `gorm:"column:subreddit_affinities"`
	ContentPreferences  datatypes.JSONSlice[string]   `gorm:"column:content_preferences"`
	AnalyzedPostCount   int                           `gorm:"column:analyzed_post_count;not null;default:0"`
	UpdatedAt           time.Time                     `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Persona) TableName() string {
	return "personas"
}

// Profile is the read model of a Persona.
type Profile struct {
	Keywords            []string   `json:"keywords"`
	Topics              []string   `json:"topics"`
	SubredditAffinities []Affinity `json:"subreddit_affinities"`
	ContentPreferences  []string   `json:"content_preferences"`
	AnalyzedPostCount   int        `json:"analyzed_post_count"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Profile converts the stored row into its read model.
func (p Persona) Profile() Profile {
	return Profile{
		Keywords:            nonNilStrings(p.Keywords),
		Topics:              nonNilStrings(p.Topics),
		SubredditAffinities: append([]Affinity{}, p.SubredditAffinities...),
		ContentPreferences:  nonNilStrings(p.ContentPreferences),
		AnalyzedPostCount:   p.AnalyzedPostCount,
		UpdatedAt:           p.UpdatedAt,
	}
}

func nonNilStrings(values []string) []string {
	return append([]string{}, values...)
}

// SubredditBlock holds the explicit block state and block history for one subreddit.
type SubredditBlock struct {
	UserID            string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Subreddit         string    `gorm:"column:subreddit;primaryKey;size:64;not null"`
	IsActivelyBlocked bool      `gorm:"column:is_actively_blocked;not null"`
	BlockCount        int       `gorm:"column:block_count;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (SubredditBlock) TableName() string {
	return "subreddit_blocks"
}

// TriageRecord is the single decision a user made on a post, with post metadata captured at decision time.
type TriageRecord struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_triage_user_post,priority:1;index:idx_triage_user_action,priority:1"`
	RedditPostID string    `gorm:"column:reddit_post_id;size:190;not null;uniqueIndex:idx_triage_user_post,priority:2"`
	Subreddit    string    `gorm:"column:subreddit;size:64;not null;default:'';index"`
	Action       Action    `gorm:"column:action;size:32;not null;index:idx_triage_user_action,priority:2"`
	Title        string    `gorm:"column:title;type:text;not null;default:''"`
	URL          string    `gorm:"column:url;type:text;not null;default:''"`
	Permalink    string    `gorm:"column:permalink;type:text;not null;default:''"`
	Thumbnail    string    `gorm:"column:thumbnail;type:text;not null;default:''"`
	Score        int       `gorm:"column:score;not null;default:0"`
	NumComments  int       `gorm:"column:num_comments;not null;default:0"`
	Author       string    `gorm:"column:author;size:64;not null;default:''"`
	CreatedUTC   float64   `gorm:"column:created_utc;not null;default:0"`
	IsSelf       bool      `gorm:"column:is_self;not null;default:false"`
	HasMetadata  bool      `gorm:"column:has_metadata;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (TriageRecord) TableName() string {
	return "triage_records"
}

// StarredSubreddit marks a subreddit the user always wants fetched and boosted.
type StarredSubreddit struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Subreddit string    `gorm:"column:subreddit;primaryKey;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (StarredSubreddit) TableName() string {
	return "starred_subreddits"
}

// Subscription is one entry of the user's stored Reddit subscription list.
type Subscription struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Subreddit string    `gorm:"column:subreddit;primaryKey;size:64;not null"`
	Position  int       `gorm:"column:position;not null;default:0"`
	SyncedAt  time.Time `gorm:"column:synced_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// Report is the user's single standing digest.
type Report struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Model       string    `gorm:"column:model;size:64;not null"`
	PostCount   int       `gorm:"column:post_count;not null;default:0"`
	Content     string    `gorm:"column:content;type:text;not null"`
	Fallback    bool      `gorm:"column:fallback;not null;default:false"`
	GeneratedAt time.Time `gorm:"column:generated_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Report) TableName() string {
	return "reports"
}

// Models lists every table owned by this package, for schema migration.
func Models() []any {
	return []any{
		&Persona{},
		&SubredditBlock{},
		&TriageRecord{},
		&StarredSubreddit{},
		&Subscription{},
		&Report{},
	}
}

// FeedPost is a ranked candidate in an assembled feed.
type FeedPost struct {
	ID              string  `json:"id"`
	Subreddit       string  `json:"subreddit"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Permalink       string  `json:"permalink"`
	Thumbnail       string  `json:"thumbnail"`
	Score           int     `json:"score"`
	NumComments     int     `json:"num_comments"`
	Author          string  `json:"author"`
	CreatedUTC      int64   `json:"created_utc"`
	IsSelf          bool    `json:"is_self"`
	Selftext        string  `json:"selftext,omitempty"`
	SourceSubreddit string  `json:"source_subreddit"`
	Starred         bool    `json:"starred"`
	RankScore       float64 `json:"rank_score"`
}

// FeedDiagnostics explains how a feed was assembled.
type FeedDiagnostics struct {
	CandidateSubreddits []string `json:"candidate_subreddits"`
	FailedSubreddits    []string `json:"failed_subreddits"`
	HardBlocked         []string `json:"hard_blocked"`
	FetchedPosts        int      `json:"fetched_posts"`
	ExcludedNSFW        int      `json:"excluded_nsfw"`
	ExcludedTriaged     int      `json:"excluded_triaged"`
	Message             string   `json:"message,omitempty"`
}

// FeedResponse is the assembled feed; it is also the cached snapshot payload.
type FeedResponse struct {
	Posts                 []FeedPost      `json:"posts"`
	RecommendedSubreddits []string        `json:"recommended_subreddits"`
	Diagnostics           FeedDiagnostics `json:"diagnostics"`
	GeneratedAt           time.Time       `json:"generated_at"`
	FromCache             bool            `json:"from_cache"`
}

// TriageResult acknowledges a recorded decision.
type TriageResult struct {
	Action     Action `json:"action"`
	PostID     string `json:"post_id"`
	SavedCount int64  `json:"saved_count"`
}

// TriageCounts holds per-action totals for a user.
type TriageCounts struct {
	Saved         int64 `json:"saved"`
	AlreadyRead   int64 `json:"already_read"`
	NotInterested int64 `json:"not_interested"`
}

// DismissResult is the outcome of a subreddit-level "not interested".
type DismissResult struct {
	Subreddit          string `json:"subreddit"`
	NotInterestedCount int64  `json:"not_interested_count"`
	HardBlocked        bool   `json:"hard_blocked"`
}

// BlockResult is the outcome of an explicit block toggle.
type BlockResult struct {
	Subreddit  string `json:"subreddit"`
	Blocked    bool   `json:"blocked"`
	BlockCount int    `json:"block_count"`
}

// BlockedSubreddit is an explicit block record with its derived standing.
type BlockedSubreddit struct {
	Subreddit          string  `json:"subreddit"`
	IsActivelyBlocked  bool    `json:"is_actively_blocked"`
	BlockCount         int     `json:"block_count"`
	NotInterestedCount int64   `json:"not_interested_count"`
	HardBlocked        bool    `json:"hard_blocked"`
	Multiplier         float64 `json:"multiplier"`
}

// ReportView is the read model of a generated report.
type ReportView struct {
	Model       string    `json:"model"`
	PostCount   int       `json:"post_count"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
	Fallback    bool      `json:"fallback"`
}
