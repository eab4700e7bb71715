package examples

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/embedding"
)

// Example is one question→SQL pair used as few-shot guidance.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Store returns examples similar to a question, most relevant first. An empty
// result is valid, not an error.
type Store interface {
	Similar(ctx context.Context, question string, k int) ([]Example, error)
}

// source supplies the raw example corpus.
type source interface {
	load(ctx context.Context) ([]Example, error)
}

// NewStore builds a Store from configuration. When an embedding provider is
// supplied, ranking uses cosine similarity over question embeddings and falls
// back to lexical overlap if embedding calls fail.
func NewStore(cfg config.ExamplesConfig, embedder embedding.Provider) (Store, error) {
	var src source

	switch cfg.Source {
	case "local":
		src = &localSource{path: cfg.Path}
	case "redis":
		src = newRedisSource(cfg)
	default:
		return nil, fmt.Errorf("unsupported examples source: %s", cfg.Source)
	}

	return &corpus{src: src, embedder: embedder}, nil
}

// corpus caches the loaded examples for the process lifetime. The cache is
// immutable once populated and shared across concurrent requests.
type corpus struct {
	src      source
	embedder embedding.Provider

	loadOnce sync.Once
	loadErr  error
	examples []Example

	mu      sync.Mutex
	vectors map[string][]float32
}

func (c *corpus) Similar(ctx context.Context, question string, k int) ([]Example, error) {
	if k <= 0 {
		return []Example{}, nil
	}

	all, err := c.all(ctx)
	if err != nil {
		return nil, err
	}

	if len(all) == 0 {
		return []Example{}, nil
	}

	if k > len(all) {
		k = len(all)
	}

	if c.embedder != nil {
		if ranked, err := c.rankByEmbedding(ctx, question, all, k); err == nil {
			return ranked, nil
		}
	}

	return rankByOverlap(question, all, k), nil
}

func (c *corpus) all(ctx context.Context) ([]Example, error) {
	c.loadOnce.Do(func() {
		c.examples, c.loadErr = c.src.load(ctx)
	})

	return c.examples, c.loadErr
}

func (c *corpus) rankByEmbedding(ctx context.Context, question string, all []Example, k int) ([]Example, error) {
	queryVec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(all))

	for i, example := range all {
		vec, err := c.exampleVector(ctx, example.Question)
		if err != nil {
			return nil, err
		}

		scores[i] = embedding.Cosine(queryVec, vec)
	}

	return topK(all, scores, k), nil
}

// exampleVector returns a cached embedding for an example question,
// computing it on first use.
func (c *corpus) exampleVector(ctx context.Context, question string) ([]float32, error) {
	c.mu.Lock()
	if c.vectors == nil {
		c.vectors = make(map[string][]float32)
	}

	if vec, ok := c.vectors[question]; ok {
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.vectors[question] = vec
	c.mu.Unlock()

	return vec, nil
}

// rankByOverlap scores examples by term-frequency overlap between the
// question and each example question, with a coverage bonus for matching more
// of the query terms.
func rankByOverlap(question string, all []Example, k int) []Example {
	terms := tokenize(question)
	scores := make([]float64, len(all))

	for i, example := range all {
		scores[i] = overlapScore(terms, example.Question)
	}

	return topK(all, scores, k)
}

func overlapScore(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	textLower := strings.ToLower(text)

	const k1 = 1.2 // saturation parameter

	totalScore := 0.0
	matchedTerms := 0

	for _, term := range queryTerms {
		tf := float64(strings.Count(textLower, term))
		if tf > 0 {
			matchedTerms++
			totalScore += tf / (tf + k1)
		}
	}

	if matchedTerms == 0 {
		return 0
	}

	avgScore := totalScore / float64(len(queryTerms))
	coverageBonus := float64(matchedTerms) / float64(len(queryTerms))

	return avgScore * (0.7 + 0.3*coverageBonus)
}

func tokenize(text string) []string {
	var terms []string

	for _, part := range strings.Fields(strings.ToLower(text)) {
		part = strings.Trim(part, ".,;:!?\"'()")
		if part != "" {
			terms = append(terms, part)
		}
	}

	return terms
}

// topK returns the k highest-scoring examples, preserving corpus order for
// ties so ranking is deterministic.
func topK(all []Example, scores []float64, k int) []Example {
	indices := make([]int, len(all))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(a, b int) bool {
		return scores[indices[a]] > scores[indices[b]]
	})

	ranked := make([]Example, 0, k)
	for _, idx := range indices[:k] {
		ranked = append(ranked, all[idx])
	}

	return ranked
}

// seedExamples are the compiled-in few-shot pairs tuned for the football
// dataset the system ships with.
var seedExamples = []Example{
	{
		Question: "How many times did Feyenoord win against Ajax?",
		SQL:      "SELECT COUNT(*) FROM matches WHERE (((homeClubName = 'Feyenoord' OR homeClubId = (SELECT clubId FROM clubs WHERE clubName='Feyenoord')) AND (awayClubName = 'Ajax' OR awayClubId = (SELECT clubId FROM clubs WHERE clubName='Ajax')) AND homeClubFinalScore > awayClubFinalScore) OR ((homeClubName = 'Ajax' OR homeClubId = (SELECT clubId FROM clubs WHERE clubName='Ajax')) AND (awayClubName = 'Feyenoord' OR awayClubId = (SELECT clubId FROM clubs WHERE clubName='Feyenoord')) AND awayClubFinalScore > homeClubFinalScore));",
	},
	{
		Question: "How often did Coen Moulijn and Sjaak Swart score in the same match?",
		SQL:      "SELECT p1.playerName AS player1, p2.playerName AS player2, COUNT(DISTINCT g1.matchId) AS matches_together FROM goals g1 JOIN goals g2 ON g1.matchId = g2.matchId AND g1.playerId != g2.playerId JOIN players p1 ON g1.playerId = p1.playerId JOIN players p2 ON g2.playerId = p2.playerId WHERE (p1.playerName = 'Coen Moulijn' AND p2.playerName = 'Sjaak Swart') OR (p1.playerName = 'Sjaak Swart' AND p2.playerName = 'Coen Moulijn') GROUP BY player1, player2;",
	},
	{
		Question: "What is the biggest win of Feyenoord against PSV?",
		SQL:      "SELECT m.dateAndTime, m.homeClubName, m.awayClubName, m.homeClubFinalScore, m.awayClubFinalScore FROM matches m WHERE (((homeClubName = 'Feyenoord' OR homeClubId = (SELECT clubId FROM clubs WHERE clubName='Feyenoord')) AND (awayClubName = 'PSV' OR awayClubId = (SELECT clubId FROM clubs WHERE clubName='PSV')) AND homeClubFinalScore > awayClubFinalScore) OR ((homeClubName = 'PSV' OR homeClubId = (SELECT clubId FROM clubs WHERE clubName='PSV')) AND (awayClubName = 'Feyenoord' OR awayClubId = (SELECT clubId FROM clubs WHERE clubName='Feyenoord')) AND awayClubFinalScore > homeClubFinalScore)) ORDER BY ABS(m.homeClubFinalScore - m.awayClubFinalScore) DESC LIMIT 5;",
	},
}

// localSource serves the compiled-in seeds plus an optional JSON file of
// additional pairs.
type localSource struct {
	path string
}

func (s *localSource) load(_ context.Context) ([]Example, error) {
	all := make([]Example, len(seedExamples))
	copy(all, seedExamples)

	if s.path == "" {
		return all, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read examples file: %w", err)
	}

	var fromFile []Example
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse examples file: %w", err)
	}

	for _, example := range fromFile {
		if example.Question != "" && example.SQL != "" {
			all = append(all, example)
		}
	}

	return all, nil
}
