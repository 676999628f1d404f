// Package optimizer canonicalizes prompts before routing, trimming filler
// that costs tokens without changing what the prompt asks for. Optimize is a
// pure function and idempotent: running it on its own output is a no-op.
package optimizer

import (
	"regexp"
	"strings"
)

// maxReduction is the aggressive-pass guard: when the full transform strips
// more than this fraction of what survives the conservative pair (courtesy
// elision + normalization), the conservative variant is returned instead.
// Measuring against the conservative baseline rather than the raw prompt
// keeps the guard's verdict stable when Optimize runs on its own output.
const maxReduction = 0.70

// courtesyPhrases are removed wherever they appear, case-insensitively on
// word boundaries. Longer phrases first so they match before their prefixes.
var courtesyPhrases = []string{
	"i would appreciate if",
	"it would be great if",
	"i would like you to",
	"would you mind",
	"i want you to",
	"i need you to",
	"if you could",
	"would you",
	"could you",
	"can you",
	"kindly",
	"please",
}

// contextMarkers introduce background the model does not need.
var contextMarkers = []string{
	"as you know",
	"as mentioned",
	"as stated",
	"as discussed",
	"previously",
	"earlier",
	"in the past",
}

// simplifications maps long connectives to short equivalents.
var simplifications = map[string]string{
	"consequently":  "so",
	"nevertheless":  "but",
	"nonetheless":   "but",
	"moreover":      "also",
	"furthermore":   "also",
	"additionally":  "also",
	"however":       "but",
	"thus":          "so",
	"therefore":     "so",
	"hence":         "so",
	"accordingly":   "so",
	"ultimately":    "finally",
	"essentially":   "basically",
	"fundamentally": "basically",
	"primarily":     "mainly",
	"initially":     "first",
	"subsequently":  "then",
}

var (
	courtesyRes   []*regexp.Regexp
	markerRes     []*regexp.Regexp
	simplifyRes   map[*regexp.Regexp]string
	politeOpener  = regexp.MustCompile(`(?i)\b(please|kindly|can you|could you|would you)\b`)
	parenAside    = regexp.MustCompile(`\([^)]*\)`)
	bracketAside  = regexp.MustCompile(`\[[^\]]*\]`)
	multiBang     = regexp.MustCompile(`!{2,}`)
	multiQuestion = regexp.MustCompile(`\?{2,}`)
	multiDot      = regexp.MustCompile(`\.{2,}`)
	spaceRun      = regexp.MustCompile(`\s+`)
	spaceBeforeP  = regexp.MustCompile(`\s+([,.!?;:])`)
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
)

func init() {
	for _, p := range courtesyPhrases {
		courtesyRes = append(courtesyRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(p)+`\b`))
	}
	for _, m := range contextMarkers {
		markerRes = append(markerRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(m)+`\b[,\s]*`))
	}
	simplifyRes = make(map[*regexp.Regexp]string, len(simplifications))
	for long, short := range simplifications {
		simplifyRes[regexp.MustCompile(`(?i)\b`+long+`\b`)] = short
	}
}

// Stats reports what one Optimize call did.
type Stats struct {
	OriginalTokens  int     `json:"original_tokens"`
	OptimizedTokens int     `json:"optimized_tokens"`
	TokensSaved     int     `json:"tokens_saved"`
	ReductionPct    float64 `json:"reduction_percentage"`
	Conservative    bool    `json:"conservative_fallback"`
}

// EstimateTokens approximates a token count as len/4, floored. The whole
// routing core uses this estimate pre-call; actual usage from the provider
// reply trues it up afterwards.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Optimize canonicalizes a prompt. The five passes run in a fixed order:
// courtesy elision, lexical simplification, context-marker and aside removal,
// whitespace/punctuation normalization, and instruction compression. When
// the result loses more than 70% of the tokens left by the conservative pair
// the aggressive passes are discarded and the conservative form is returned.
func Optimize(prompt string) (string, Stats) {
	original := EstimateTokens(prompt)

	out := elideCourtesy(prompt)
	out = simplify(out)
	out = removeContext(out)
	out = normalize(out)
	out = compressInstructions(out)

	stats := Stats{OriginalTokens: original}
	conservative := normalize(elideCourtesy(prompt))
	if base := EstimateTokens(conservative); base > 0 {
		reduction := float64(base-EstimateTokens(out)) / float64(base)
		if reduction > maxReduction {
			out = conservative
			stats.Conservative = true
		}
	}

	stats.OptimizedTokens = EstimateTokens(out)
	stats.TokensSaved = stats.OriginalTokens - stats.OptimizedTokens
	if original > 0 {
		stats.ReductionPct = float64(stats.TokensSaved) / float64(original) * 100
	}
	return out, stats
}

func elideCourtesy(s string) string {
	for _, re := range courtesyRes {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func simplify(s string) string {
	for re, short := range simplifyRes {
		s = re.ReplaceAllString(s, short)
	}
	return s
}

func removeContext(s string) string {
	for _, re := range markerRes {
		s = re.ReplaceAllString(s, "")
	}
	s = parenAside.ReplaceAllString(s, "")
	s = bracketAside.ReplaceAllString(s, "")
	return s
}

// normalize collapses whitespace and repeated terminal punctuation, fixes
// spacing before punctuation, and straightens curly quotes.
func normalize(s string) string {
	s = multiBang.ReplaceAllString(s, "!")
	s = multiQuestion.ReplaceAllString(s, "?")
	s = multiDot.ReplaceAllString(s, ".")
	s = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	).Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceBeforeP.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// compressInstructions splits on sentence terminators, strips polite openers
// from each sentence, and when a sentence chains more than two coordinated
// clauses with "and", keeps only the first.
func compressInstructions(s string) string {
	sentences := sentenceSplit.Split(s, -1)
	kept := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		sentence = strings.TrimSpace(politeOpener.ReplaceAllString(sentence, ""))
		if parts := strings.Split(sentence, " and "); len(parts) > 2 {
			sentence = strings.TrimSpace(parts[0])
		}
		if sentence != "" {
			kept = append(kept, sentence)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ". ") + "."
}
