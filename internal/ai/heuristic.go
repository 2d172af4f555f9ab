package ai

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SummaryBudget is the rune budget of a fallback summary.
const SummaryBudget = 240

var keywords = map[Label][]string{
	LabelSpam: {
		"lottery", "winner", "win money", "click here", "congratulations",
		"free gift", "buy now", "limited time", "act now", "claim your prize",
	},
	LabelUrgent: {
		"urgent", "asap", "as soon as possible", "immediately", "emergency",
		"action required", "critical",
	},
	LabelTask: {
		"please review", "please complete", "can you", "could you", "todo",
		"to do", "action item", "follow up", "follow-up", "due by", "assigned to you",
	},
	LabelPromotion: {
		"unsubscribe", "sale", "discount", "promo", "promo code", "coupon",
		"offer", "newsletter", "deal",
	},
	LabelImportant: {
		"important", "deadline", "meeting", "invoice", "contract", "payment",
		"security alert", "password", "interview",
	},
}

var confidence = map[Label]float64{
	LabelSpam:      0.9,
	LabelUrgent:    0.95,
	LabelTask:      0.8,
	LabelPromotion: 0.85,
	LabelImportant: 0.85,
	LabelGray:      0.6,
}

var patterns = compilePatterns()

func compilePatterns() map[Label]*regexp.Regexp {
	out := make(map[Label]*regexp.Regexp, len(keywords))
	for label, words := range keywords {
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		out[label] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return out
}

// Heuristic is the deterministic local Capability. It never fails.
type Heuristic struct{}

var _ Capability = Heuristic{}

// Classify returns the first label, in priority order, with a keyword in
// the text. GRAY when nothing matches.
func (Heuristic) Classify(_ context.Context, in Input) (Classification, error) {
	return ClassifyText(in.Text()), nil
}

// ClassifyText is Classify on raw text.
func ClassifyText(text string) Classification {
	for _, label := range Labels {
		re, ok := patterns[label]
		if ok && re.MatchString(text) {
			return Classification{Label: label, Confidence: confidence[label]}
		}
	}
	return Classification{Label: LabelGray, Confidence: confidence[LabelGray]}
}

// Summarize truncates text to SummaryBudget runes, marking the cut.
func (Heuristic) Summarize(_ context.Context, text string) (string, error) {
	return Truncate(text, SummaryBudget), nil
}

// Truncate returns text unchanged when it fits in n runes, otherwise its
// first n runes followed by "...".
func Truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:n])) + "..."
}

// Rewrite prefixes a greeting matching tone.
func (Heuristic) Rewrite(_ context.Context, text string, tone Tone) (string, error) {
	switch tone {
	case ToneFormal:
		return "Dear Sir/Madam,\n\n" + text, nil
	case ToneCasual:
		return "Hey, " + text, nil
	default:
		return text, nil
	}
}
