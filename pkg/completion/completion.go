package completion

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/jwebster45206/companion-engine/pkg/profile"
)

// DefaultKeywords mark a player action as finishing the current chapter.
var DefaultKeywords = []string{"done", "finish", "complete", "完成", "解决", "成功"}

// Evaluator decides whether a player action completes a chapter.
type Evaluator interface {
	Complete(action string, chapter profile.Chapter) bool
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(action string, chapter profile.Chapter) bool

// Complete calls f(action, chapter).
func (f EvaluatorFunc) Complete(action string, chapter profile.Chapter) bool {
	return f(action, chapter)
}

// KeywordEvaluator reports completion when the action contains any of its
// keywords, compared under Unicode case folding.
type KeywordEvaluator struct {
	keywords []string
}

// NewKeywordEvaluator creates an evaluator for keywords. With no keywords
// DefaultKeywords is used.
func NewKeywordEvaluator(keywords ...string) *KeywordEvaluator {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	ke := &KeywordEvaluator{keywords: make([]string, 0, len(keywords))}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		ke.keywords = append(ke.keywords, fold(kw))
	}
	return ke
}

// Complete ignores the chapter; only the action text is inspected.
func (ke *KeywordEvaluator) Complete(action string, _ profile.Chapter) bool {
	folded := fold(action)
	for _, kw := range ke.keywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// Keywords returns the folded keyword list.
func (ke *KeywordEvaluator) Keywords() []string {
	out := make([]string, len(ke.keywords))
	copy(out, ke.keywords)
	return out
}

// fold needs a fresh Caser per call; Casers are not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
