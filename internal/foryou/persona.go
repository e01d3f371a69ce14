package foryou

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/alxvallejo/read-api/internal/summarize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opRefreshPersona = "foryou.refresh_persona"
	opGetPersona     = "foryou.get_persona"

	maxPersonaKeywords    = 10
	maxPersonaTopics      = 5
	maxFallbackAffinities = 10
	defaultAffinityWeight = 0.5
	fallbackAffinityScale = 5.0
)

var (
	fallbackKeywords    = []string{"trending", "discussion", "community"}
	fallbackTopics      = []string{"General"}
	fallbackPreferences = []string{"mixed"}
)

const personaSystemPrompt = `You analyze a Reddit user's saved posts and infer their interests.
Respond with a single JSON object with exactly these fields:
  "keywords": 5 to 10 short lowercase interest keywords,
  "topics": 3 to 5 broad topic names,
  "subredditAffinities": an array of {"name": subreddit name without "r/", "weight": number between 0 and 1},
  "contentPreferences": content types the user favors, such as "discussion", "news", "tutorials", "images".
Weight subreddits by how strongly the saved posts suggest ongoing interest, not only by frequency.`

type subredditFrequency struct {
	name  string
	count int
}

// subredditHistogram counts lowercased subreddit names, most frequent first and ties by name.
func subredditHistogram(posts []reddit.Post) []subredditFrequency {
	counts := make(map[string]int)
	for _, post := range posts {
		name := strings.ToLower(stripSubredditPrefix(post.Subreddit))
		if name == "" {
			continue
		}
		counts[name]++
	}
	histogram := make([]subredditFrequency, 0, len(counts))
	for name, count := range counts {
		histogram = append(histogram, subredditFrequency{name: name, count: count})
	}
	sort.Slice(histogram, func(i, j int) bool {
		if histogram[i].count != histogram[j].count {
			return histogram[i].count > histogram[j].count
		}
		return histogram[i].name < histogram[j].name
	})
	return histogram
}

// personaDraft is a sanitized persona before it is stored.
type personaDraft struct {
	keywords    []string
	topics      []string
	affinities  []Affinity
	preferences []string
}

func fallbackPersona(histogram []subredditFrequency) personaDraft {
	affinities := make([]Affinity, 0, maxFallbackAffinities)
	for _, entry := range histogram {
		if len(affinities) == maxFallbackAffinities {
			break
		}
		affinities = append(affinities, Affinity{
			Name:   entry.name,
			Weight: math.Min(1, float64(entry.count)/fallbackAffinityScale),
		})
	}
	return personaDraft{
		keywords:    append([]string{}, fallbackKeywords...),
		topics:      append([]string{}, fallbackTopics...),
		affinities:  affinities,
		preferences: append([]string{}, fallbackPreferences...),
	}
}

func buildPersonaPrompt(sample []reddit.Post, histogram []subredditFrequency) string {
	var builder strings.Builder
	builder.WriteString("Saved posts (most recent first):\n")
	for index, post := range sample {
		fmt.Fprintf(&builder, "%d. r/%s: %s\n", index+1, post.Subreddit, strings.TrimSpace(post.Title))
	}
	builder.WriteString("\nSubreddit frequency:\n")
	for _, entry := range histogram {
		fmt.Fprintf(&builder, "- r/%s: %d\n", entry.name, entry.count)
	}
	return builder.String()
}

// parsePersonaResponse decodes and sanitizes the summarizer output. Any decode failure is reported so
// the caller can take the full fallback.
func parsePersonaResponse(raw string) (personaDraft, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(summarize.StripCodeFence(raw)), &payload); err != nil {
		return personaDraft{}, err
	}
	if payload == nil {
		return personaDraft{}, errors.New("persona response is not an object")
	}
	return personaDraft{
		keywords:    truncateStrings(stringList(firstPresent(payload, "keywords")), maxPersonaKeywords),
		topics:      truncateStrings(stringList(firstPresent(payload, "topics")), maxPersonaTopics),
		affinities:  sanitizeAffinities(firstPresent(payload, "subredditAffinities", "subreddit_affinities")),
		preferences: stringList(firstPresent(payload, "contentPreferences", "content_preferences")),
	}, nil
}

func firstPresent(payload map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := payload[key]; ok {
			return value
		}
	}
	return nil
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		text, ok := item.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func truncateStrings(values []string, limit int) []string {
	if len(values) > limit {
		return values[:limit]
	}
	return values
}

func sanitizeAffinities(value any) []Affinity {
	items, ok := value.([]any)
	if !ok {
		return []Affinity{}
	}
	seen := make(map[string]struct{}, len(items))
	affinities := make([]Affinity, 0, len(items))
	for _, item := range items {
		var rawName string
		var rawWeight any
		switch entry := item.(type) {
		case string:
			rawName = entry
		case map[string]any:
			if name, ok := firstPresent(entry, "name", "subreddit").(string); ok {
				rawName = name
			}
			rawWeight = entry["weight"]
		default:
			continue
		}
		name := strings.ToLower(stripSubredditPrefix(rawName))
		if !subredditNamePattern.MatchString(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		affinities = append(affinities, Affinity{Name: name, Weight: clampWeight(rawWeight)})
	}
	return affinities
}

// clampWeight bounds a weight to [0,1]; anything non-numeric becomes the default weight.
func clampWeight(value any) float64 {
	number, ok := value.(float64)
	if !ok || math.IsNaN(number) {
		return defaultAffinityWeight
	}
	return math.Max(0, math.Min(1, number))
}

// RefreshPersona rebuilds the user's persona from their saved posts and replaces the stored one.
// Summarizer failures degrade to a histogram-derived persona.
func (s *Service) RefreshPersona(ctx context.Context, userID, token string) (Profile, error) {
	if err := validateUserID(opRefreshPersona, userID); err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(token) == "" {
		return Profile{}, newServiceError(opRefreshPersona, "missing_token", KindUnauthenticated, errMissingToken)
	}

	saved, err := s.source.ListSavedPosts(ctx, token, savedPostFetchLimit)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("list_saved").Inc()
		s.logError(opRefreshPersona, "saved_fetch_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opRefreshPersona, "saved_fetch_failed", KindUpstreamUnavailable, err)
	}
	if len(saved) == 0 {
		return Profile{}, newServiceError(opRefreshPersona, "no_saved_posts", KindNoContent, nil)
	}

	sample := saved
	if len(sample) > personaSampleSize {
		sample = sample[:personaSampleSize]
	}
	histogram := subredditHistogram(sample)
	draft := s.inferPersona(ctx, userID, sample, histogram)

	persona := Persona{
		UserID:              userID,
		Keywords:            draft.keywords,
		Topics:              draft.topics,
		SubredditAffinities: draft.affinities,
		ContentPreferences:  draft.preferences,
		AnalyzedPostCount:   len(sample),
		UpdatedAt:           s.now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&persona).Error; err != nil {
		s.logError(opRefreshPersona, "persona_upsert_failed", err, zap.String("user_id", userID))
		return Profile{}, internalError(opRefreshPersona, "persona_upsert_failed", err)
	}
	return persona.Profile(), nil
}

func (s *Service) inferPersona(ctx context.Context, userID string, sample []reddit.Post, histogram []subredditFrequency) personaDraft {
	if !s.completer.Available() {
		metrics.SummarizeFallbacks.WithLabelValues("persona").Inc()
		return fallbackPersona(histogram)
	}
	raw, err := s.completer.Complete(ctx, summarize.CompletionRequest{
		System: personaSystemPrompt,
		User:   buildPersonaPrompt(sample, histogram),
		JSON:   true,
	})
	if err != nil {
		metrics.SummarizeFallbacks.WithLabelValues("persona").Inc()
		s.logWarn(opRefreshPersona, "completion_failed", err, zap.String("user_id", userID))
		return fallbackPersona(histogram)
	}
	draft, err := parsePersonaResponse(raw)
	if err != nil {
		metrics.SummarizeFallbacks.WithLabelValues("persona").Inc()
		s.logWarn(opRefreshPersona, "response_unparseable", err, zap.String("user_id", userID))
		return fallbackPersona(histogram)
	}
	return draft
}

// GetPersona returns the stored persona.
func (s *Service) GetPersona(ctx context.Context, userID string) (Profile, error) {
	if err := validateUserID(opGetPersona, userID); err != nil {
		return Profile{}, err
	}
	persona, found, err := loadPersona(ctx, s.db, userID)
	if err != nil {
		s.logError(opGetPersona, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, internalError(opGetPersona, "query_failed", err)
	}
	if !found {
		return Profile{}, newServiceError(opGetPersona, "persona_missing", KindNotFound, nil)
	}
	return persona.Profile(), nil
}

func loadPersona(ctx context.Context, db *gorm.DB, userID string) (Persona, bool, error) {
	var persona Persona
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Persona{}, false, nil
	}
	if err != nil {
		return Persona{}, false, err
	}
	return persona, true, nil
}
