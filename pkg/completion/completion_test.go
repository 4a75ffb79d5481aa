package completion

import (
	"testing"

	"github.com/jwebster45206/companion-engine/pkg/profile"
)

func TestKeywordEvaluator_Complete(t *testing.T) {
	ev := NewKeywordEvaluator()
	chapter := profile.Chapter{Title: "First Meeting", Objective: "Say hello"}

	tests := []struct {
		name     string
		action   string
		expected bool
	}{
		{name: "english keyword", action: "I'm done", expected: true},
		{name: "uppercase keyword", action: "DONE!", expected: true},
		{name: "mixed case", action: "We FiNiSh the quest", expected: true},
		{name: "keyword inside a longer word", action: "the task is completed", expected: true},
		{name: "chinese keyword", action: "任务完成了", expected: true},
		{name: "chinese success", action: "我们成功了", expected: true},
		{name: "no keyword", action: "hello", expected: false},
		{name: "empty action", action: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.Complete(tt.action, chapter); got != tt.expected {
				t.Errorf("Complete(%q) = %v, expected %v", tt.action, got, tt.expected)
			}
		})
	}
}

func TestNewKeywordEvaluator_CustomKeywords(t *testing.T) {
	ev := NewKeywordEvaluator("Victory", "  ", "")

	if got := ev.Keywords(); len(got) != 1 || got[0] != "victory" {
		t.Fatalf("Expected [victory], got %v", got)
	}
	if !ev.Complete("VICTORY is ours", profile.Chapter{}) {
		t.Error("Expected custom keyword to match")
	}
	if ev.Complete("I'm done", profile.Chapter{}) {
		t.Error("Default keywords should not apply when custom keywords are given")
	}
}

func TestEvaluatorFunc(t *testing.T) {
	var ev Evaluator = EvaluatorFunc(func(action string, ch profile.Chapter) bool {
		return action == ch.Objective
	})

	ch := profile.Chapter{Objective: "open the gate"}
	if !ev.Complete("open the gate", ch) {
		t.Error("Expected objective match to complete")
	}
	if ev.Complete("done", ch) {
		t.Error("Expected custom predicate to ignore keywords")
	}
}
