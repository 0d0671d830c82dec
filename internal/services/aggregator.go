package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

// AggregatorService rebuilds the base report for a week from its live
// entries. The written record always has stale=false and sourceCount
// equal to the number of entries it was built from; the reload loop's
// bounded rebuild depends on that.
type AggregatorService interface {
	Aggregate(ctx context.Context, userID uuid.UUID, weekKey string) error
}

type aggregatorEntries interface {
	ListForWeek(ctx context.Context, userID uuid.UUID, weekKey string) ([]*types.DreamEntry, error)
}

type aggregatorStore interface {
	Merge(ctx context.Context, userID uuid.UUID, weekKey string, patch map[string]any) error
}

type aggregatorService struct {
	log       *logger.Logger
	entries   aggregatorEntries
	store     aggregatorStore
	lexicon   *Lexicon
	themeSize int
	group     singleflight.Group
}

const defaultThemeCardinality = 5

func NewAggregatorService(entries aggregatorEntries, store aggregatorStore, lexicon *Lexicon, themeSize int, baseLog *logger.Logger) AggregatorService {
	if themeSize <= 0 {
		themeSize = defaultThemeCardinality
	}
	return &aggregatorService{
		log:       baseLog.With("service", "AggregatorService"),
		entries:   entries,
		store:     store,
		lexicon:   lexicon,
		themeSize: themeSize,
	}
}

func (s *aggregatorService) Aggregate(ctx context.Context, userID uuid.UUID, weekKey string) error {
	key := userID.String() + "|" + weekKey
	_, err, _ := s.group.Do(key, func() (any, error) {
		return nil, s.aggregate(ctx, userID, weekKey)
	})
	return err
}

func (s *aggregatorService) aggregate(ctx context.Context, userID uuid.UUID, weekKey string) error {
	entries, err := s.entries.ListForWeek(ctx, userID, weekKey)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries for %s", weekKey)
	}

	tokens := s.tokenize(entries)

	emotionLabels, emotionScores := scoreBuckets(s.lexicon.Emotions, tokens)
	emotionDist := NormalizeTo100(emotionScores)

	themeLabels, themeDist := s.topThemes(tokens)

	feeling := s.lexicon.DefaultFeeling
	if idx := maxIndex(emotionScores); idx >= 0 && emotionScores[idx] > 0 {
		feeling = emotionLabels[idx]
	}

	keywords := topKeywords(tokens, 8)
	analysis := buildAnalysisText(len(entries), feeling, keywords, themeLabels, themeDist)

	now := time.Now()
	patch := map[string]any{
		"feeling":         feeling,
		"keywords":        types.MustJSON(keywords),
		"analysis_text":   analysis,
		"emotion_labels":  types.MustJSON(emotionLabels),
		"emotion_dist":    types.MustJSON(emotionDist),
		"theme_labels":    types.MustJSON(themeLabels),
		"theme_dist":      types.MustJSON(themeDist),
		"source_count":    len(entries),
		"last_rebuilt_at": now,
		"stale":           false,
	}
	if err := s.store.Merge(ctx, userID, weekKey, patch); err != nil {
		return fmt.Errorf("merge report: %w", err)
	}
	s.log.Debug("report aggregated", "user_id", userID, "week_key", weekKey, "entries", len(entries), "feeling", feeling)
	return nil
}

func (s *aggregatorService) tokenize(entries []*types.DreamEntry) []string {
	var tokens []string
	for _, e := range entries {
		text := strings.ToLower(e.Body + " " + e.Mood)
		for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if len(tok) < 2 || s.lexicon.IsStopword(tok) {
				continue
			}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// topThemes scores the lexicon themes and pads/truncates the result to
// the configured cardinality before normalizing.
func (s *aggregatorService) topThemes(tokens []string) ([]string, []float64) {
	labels, scores := scoreBuckets(s.lexicon.Themes, tokens)

	type themeScore struct {
		label string
		score float64
	}
	ranked := make([]themeScore, len(labels))
	for i := range labels {
		ranked[i] = themeScore{labels[i], scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > s.themeSize {
		ranked = ranked[:s.themeSize]
	}
	for len(ranked) < s.themeSize {
		ranked = append(ranked, themeScore{fmt.Sprintf("other-%d", len(ranked)+1), 0})
	}

	outLabels := make([]string, s.themeSize)
	outScores := make([]float64, s.themeSize)
	for i, t := range ranked {
		outLabels[i] = t.label
		outScores[i] = t.score
	}
	return outLabels, NormalizeTo100(outScores)
}

func scoreBuckets(buckets []LexiconBucket, tokens []string) ([]string, []float64) {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	labels := make([]string, len(buckets))
	scores := make([]float64, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Label
		for _, term := range b.Terms {
			scores[i] += float64(counts[strings.ToLower(term)])
		}
	}
	return labels, scores
}

// NormalizeTo100 scales a score vector so it sums to 100 within 0.5.
// An all-zero vector becomes uniform; values are kept at two decimals
// with the rounding remainder folded into the largest bucket.
func NormalizeTo100(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	total := 0.0
	for _, v := range scores {
		total += v
	}
	out := make([]float64, len(scores))
	if total <= 0 {
		share := math.Round(10000.0/float64(len(scores))) / 100
		for i := range out {
			out[i] = share
		}
	} else {
		for i, v := range scores {
			out[i] = math.Round(v/total*10000) / 100
		}
	}

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if diff := 100 - sum; diff != 0 {
		out[maxIndex(out)] = math.Round((out[maxIndex(out)]+diff)*100) / 100
	}
	return out
}

func maxIndex(vals []float64) int {
	if len(vals) == 0 {
		return -1
	}
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

func topKeywords(tokens []string, limit int) []string {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func buildAnalysisText(entryCount int, feeling string, keywords []string, themeLabels []string, themeDist []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Across %d dreams this week the dominant feeling was %s.", entryCount, feeling)
	if len(themeLabels) > 0 && len(themeDist) > 0 && themeDist[0] > 0 {
		fmt.Fprintf(&b, " The strongest recurring theme was %q.", themeLabels[0])
	}
	if len(keywords) > 0 {
		top := keywords
		if len(top) > 3 {
			top = top[:3]
		}
		fmt.Fprintf(&b, " Recurring imagery: %s.", strings.Join(top, ", "))
	}
	return b.String()
}
