// Package complexity scores prompts on a 0-1 scale from seven weighted
// factors and classifies them into tiers that drive provider selection.
package complexity

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Tier buckets an overall score for routing decisions.
type Tier string

const (
	TierSimple      Tier = "simple"
	TierModerate    Tier = "moderate"
	TierComplex     Tier = "complex"
	TierVeryComplex Tier = "very_complex"
)

// Factor names the seven scored dimensions.
type Factor string

const (
	FactorLength     Factor = "length"
	FactorTechnical  Factor = "technical_terms"
	FactorMultiStep  Factor = "multi_step"
	FactorCreative   Factor = "creative"
	FactorAnalytical Factor = "analytical"
	FactorCode       Factor = "code_generation"
	FactorReasoning  Factor = "reasoning"
)

// Thresholds are the tier cut points, inclusive upper bounds.
type Thresholds struct {
	Simple   float64 `json:"simple"`
	Moderate float64 `json:"moderate"`
	Complex  float64 `json:"complex"`
}

// Config holds the factor weights and tier thresholds. Both are data, not
// code constants; DefaultConfig matches the shipped routing behavior.
type Config struct {
	Thresholds   Thresholds         `json:"thresholds"`
	Weights      map[Factor]float64 `json:"weights"`
	CacheResults bool               `json:"cache_results"`
	MaxCacheSize int                `json:"max_cache_size"`
}

// DefaultConfig returns the default weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{Simple: 0.25, Moderate: 0.50, Complex: 0.75},
		Weights: map[Factor]float64{
			FactorLength:     0.20,
			FactorTechnical:  0.15,
			FactorMultiStep:  0.20,
			FactorCreative:   0.10,
			FactorAnalytical: 0.15,
			FactorCode:       0.10,
			FactorReasoning:  0.10,
		},
		CacheResults: true,
		MaxCacheSize: 1000,
	}
}

// baselineCostPer1K is the pre-selection cost baseline in USD per 1k tokens.
const baselineCostPer1K = 0.002

// Per-factor saturation counts: the observation at which a factor scores 1.0.
const (
	saturationWords     = 1000
	saturationTechnical = 10
	saturationSteps     = 5
	saturationCreative  = 3
	saturationAnalytic  = 3
	saturationCode      = 5
	saturationReasoning = 4
)

var technicalTerms = []string{
	"algorithm", "api", "authentication", "backend", "database", "encryption",
	"framework", "frontend", "http", "json", "microservices", "oauth",
	"protocol", "query", "schema", "sdk", "sql", "ssl", "tls", "webhook",
	"docker", "kubernetes", "aws", "azure", "gcp", "rest", "graphql",
	"websocket", "redis", "postgresql", "mongodb", "elasticsearch",
	"machine learning", "neural network", "tensorflow", "pytorch",
	"deployment", "ci/cd", "git", "version control", "unit test",
	"integration test", "load balancing", "scaling", "monitoring", "logging",
}

var (
	stepMarkers       = []string{"step", "first", "second", "then", "next", "finally", "1.", "2.", "3."}
	creativeMarkers   = []string{"creative", "story", "imagine", "write a", "compose", "narrative"}
	analyticalMarkers = []string{"analyze", "compare", "evaluate", "assess", "examine", "investigate"}
	codeMarkers       = []string{"code", "function", "class", "program", "script", "algorithm"}
	reasoningMarkers  = []string{"why", "how", "explain", "reason", "logic", "because"}

	fencedBlockRe = regexp.MustCompile("```[\\s\\S]*?```")
	urlRe         = regexp.MustCompile(`https?://[^\s]+`)
	sentenceRe    = regexp.MustCompile(`[.!?]+`)
)

// Score is the full analysis output for one prompt.
type Score struct {
	Overall float64            `json:"overall_score"`
	Tier    Tier               `json:"tier"`
	Factors map[Factor]float64 `json:"factors"`

	WordCount      int `json:"word_count"`
	CharacterCount int `json:"character_count"`
	SentenceCount  int `json:"sentence_count"`
	TechnicalTerms int `json:"technical_term_count"`
	CodeBlocks     int `json:"code_blocks"`
	URLs           int `json:"urls"`

	EstimatedTokens  int     `json:"estimated_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	// Default recommendation before registry scoring runs: cheap-fast for
	// simple prompts, capable for complex ones.
	RecommendedProvider string `json:"recommended_provider"`

	AnalysisTimeMs float64 `json:"analysis_time_ms"`
}

// Analyzer scores prompts. Safe for concurrent use; results are memoized in
// a bounded map keyed by the MD5 of the prompt.
type Analyzer struct {
	cfg Config

	mu     sync.RWMutex
	cache  map[string]Score
	hits   int64
	misses int64
}

// New creates an Analyzer with the given config. Zero-value weight maps fall
// back to the defaults.
func New(cfg Config) *Analyzer {
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultConfig().Weights
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 1000
	}
	return &Analyzer{cfg: cfg, cache: make(map[string]Score)}
}

// Analyze scores a prompt. Identical prompts return the memoized result.
func (a *Analyzer) Analyze(prompt string) Score {
	var key string
	if a.cfg.CacheResults {
		sum := md5.Sum([]byte(prompt))
		key = hex.EncodeToString(sum[:])
		a.mu.RLock()
		cached, ok := a.cache[key]
		if ok {
			a.mu.RUnlock()
			a.mu.Lock()
			a.hits++
			a.mu.Unlock()
			return cached
		}
		a.mu.RUnlock()
	}

	score := a.analyze(prompt)

	if a.cfg.CacheResults {
		a.mu.Lock()
		a.misses++
		if len(a.cache) >= a.cfg.MaxCacheSize {
			// Full reset; simpler than tracking recency for an advisory cache.
			a.cache = make(map[string]Score)
		}
		a.cache[key] = score
		a.mu.Unlock()
	}
	return score
}

func (a *Analyzer) analyze(prompt string) Score {
	start := time.Now()
	lower := strings.ToLower(prompt)

	wordCount := len(strings.Fields(prompt))
	techCount := countTerms(lower, technicalTerms)
	codeBlocks := len(fencedBlockRe.FindAllString(prompt, -1))

	factors := map[Factor]float64{
		FactorLength:     saturate(wordCount, saturationWords),
		FactorTechnical:  saturate(techCount, saturationTechnical),
		FactorMultiStep:  saturate(countTerms(lower, stepMarkers), saturationSteps),
		FactorCreative:   saturate(countTerms(lower, creativeMarkers), saturationCreative),
		FactorAnalytical: saturate(countTerms(lower, analyticalMarkers), saturationAnalytic),
		FactorCode:       saturate(countTerms(lower, codeMarkers)+codeBlocks, saturationCode),
		FactorReasoning:  saturate(countTerms(lower, reasoningMarkers), saturationReasoning),
	}

	overall := a.weighted(factors)
	tier := a.tier(overall)
	tokens := len(prompt) / 4

	return Score{
		Overall:             overall,
		Tier:                tier,
		Factors:             factors,
		WordCount:           wordCount,
		CharacterCount:      len(prompt),
		SentenceCount:       len(sentenceRe.Split(prompt, -1)),
		TechnicalTerms:      techCount,
		CodeBlocks:          codeBlocks,
		URLs:                len(urlRe.FindAllString(prompt, -1)),
		EstimatedTokens:     tokens,
		EstimatedCostUSD:    float64(tokens) / 1000 * baselineCostPer1K,
		RecommendedProvider: recommend(tier),
		AnalysisTimeMs:      float64(time.Since(start).Microseconds()) / 1000,
	}
}

func (a *Analyzer) weighted(factors map[Factor]float64) float64 {
	var total, weight float64
	for f, w := range a.cfg.Weights {
		if v, ok := factors[f]; ok {
			total += v * w
			weight += w
		}
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

func (a *Analyzer) tier(score float64) Tier {
	t := a.cfg.Thresholds
	switch {
	case score <= t.Simple:
		return TierSimple
	case score <= t.Moderate:
		return TierModerate
	case score <= t.Complex:
		return TierComplex
	default:
		return TierVeryComplex
	}
}

func recommend(tier Tier) string {
	switch tier {
	case TierSimple:
		return "groq"
	case TierModerate:
		return "openai"
	default:
		return "anthropic"
	}
}

// CacheStats reports the memoization cache state.
func (a *Analyzer) CacheStats() (size int, hits, misses int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache), a.hits, a.misses
}

// ClearCache drops all memoized results.
func (a *Analyzer) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]Score)
}

func countTerms(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

func saturate(count, saturation int) float64 {
	v := float64(count) / float64(saturation)
	if v > 1 {
		return 1
	}
	return v
}
