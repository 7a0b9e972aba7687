package judge

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/ormasoftchile/flume/pkg/llm"
)

// fakeClient returns scripted JSON replies in call order and records every
// request for prompt assertions.
type fakeClient struct {
	t       *testing.T
	replies []string
	reqs    []llm.Request
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.reqs = append(f.reqs, req)
	if len(f.reqs) > len(f.replies) {
		f.t.Fatalf("unexpected LLM call %d: %s", len(f.reqs), req.Prompt)
	}
	return &llm.Response{Text: f.replies[len(f.reqs)-1]}, nil
}

// TestSummarization verifies the 3-call flow and the blended score.
func TestSummarization(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{
		`{"keyphrases": ["Go", "channels"]}`,
		`{"questions": [
			{"keyphrase": "Go", "question": "Does the text mention Go?"},
			{"keyphrase": "channels", "question": "Does the text mention channels?"}
		]}`,
		`{"answers": [
			{"question": "Does the text mention Go?", "answer": "YES", "reasoning": "stated"},
			{"question": "Does the text mention channels?", "answer": "NO", "reasoning": "absent"}
		]}`,
	}}

	// Source of 10 runes, summary of 5: conciseness 0.5, qa 1/2.
	result, err := Run(context.Background(), client, "summarization", "haiku", map[string]any{
		"source":  "0123456789",
		"summary": "01234",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.reqs) != 3 {
		t.Fatalf("made %d calls, want 3", len(client.reqs))
	}
	if !strings.Contains(client.reqs[0].Prompt, "0123456789") {
		t.Error("keyphrase prompt missing source text")
	}
	if !strings.Contains(client.reqs[1].Prompt, "- Go") {
		t.Error("question prompt missing bulleted keyphrases")
	}
	if !strings.Contains(client.reqs[2].Prompt, "1. Does the text mention Go?") {
		t.Error("answer prompt missing numbered questions")
	}

	if got := result["score"].(float64); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("score = %v, want 0.5", got)
	}
	if got := result["qa_score"].(float64); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("qa_score = %v, want 0.5", got)
	}
	if result["total_questions"] != 2 || result["correct_answers"] != 1 {
		t.Errorf("counts = %v/%v", result["total_questions"], result["correct_answers"])
	}
}

// TestSummarizationNoKeyphrases verifies the zero-keyphrase early return:
// score 0, a single LLM call.
func TestSummarizationNoKeyphrases(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{`{"keyphrases": []}`}}
	result, err := Run(context.Background(), client, "summarization", "haiku", map[string]any{
		"source":  "some source",
		"summary": "a summary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.reqs) != 1 {
		t.Errorf("made %d calls, want 1", len(client.reqs))
	}
	if result["score"].(float64) != 0.0 || result["qa_score"].(float64) != 0.0 {
		t.Errorf("score/qa_score = %v/%v, want 0/0", result["score"], result["qa_score"])
	}
}

// TestFaithfulness verifies claim verification arithmetic: 2 of 3 supported.
func TestFaithfulness(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{
		`{"claims": [
			{"claim": "A is true", "original_sentence": "A."},
			{"claim": "B is true", "original_sentence": "B."},
			{"claim": "C is true", "original_sentence": "C."}
		]}`,
		`{"verdicts": [
			{"claim": "A is true", "verdict": 1, "reasoning": "stated"},
			{"claim": "B is true", "verdict": 1, "reasoning": "stated"},
			{"claim": "C is true", "verdict": 0, "reasoning": "absent"}
		]}`,
	}}

	result, err := Run(context.Background(), client, "faithfulness", "haiku", map[string]any{
		"source":   "A. B.",
		"response": "A, B and C.",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result["score"].(float64); got != 0.6667 {
		t.Errorf("score = %v, want 0.6667", got)
	}
	if result["supported_claims"] != 2 || result["total_claims"] != 3 {
		t.Errorf("counts = %v/%v", result["supported_claims"], result["total_claims"])
	}
}

// TestFaithfulnessNoClaims verifies the neutral default for empty output.
func TestFaithfulnessNoClaims(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{`{"claims": []}`}}
	result, err := Run(context.Background(), client, "faithfulness", "haiku", map[string]any{
		"source":   "text",
		"response": "ok",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result["score"].(float64) != 1.0 {
		t.Errorf("score = %v, want 1.0", result["score"])
	}
	if len(client.reqs) != 1 {
		t.Errorf("made %d calls, want 1", len(client.reqs))
	}
}

// TestHallucination verifies only contradicted claims penalize.
func TestHallucination(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{
		`{"claims": [
			{"claim": "X happened", "original_sentence": "X."},
			{"claim": "Y happened", "original_sentence": "Y."}
		]}`,
		`{"verdicts": [
			{"claim": "X happened", "verdict": "contradicted", "reasoning": "context says otherwise"},
			{"claim": "Y happened", "verdict": "neutral", "reasoning": "not addressed"}
		]}`,
	}}

	result, err := Run(context.Background(), client, "hallucination", "haiku", map[string]any{
		"context":  "X did not happen.",
		"response": "X and Y happened.",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result["score"].(float64); got != 0.5 {
		t.Errorf("score = %v, want 0.5", got)
	}
	if result["contradicted_claims"] != 1 {
		t.Errorf("contradicted_claims = %v", result["contradicted_claims"])
	}
}

// TestContextRelevance verifies the 3-way verdict mapping and that list
// context is joined with document markers.
func TestContextRelevance(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{
		`{"verdict": "partial", "reasoning": "covers half the question"}`,
	}}

	result, err := Run(context.Background(), client, "context_relevance", "haiku", map[string]any{
		"question": "what is flume?",
		"context":  []any{"doc one", "doc two"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result["score"].(float64); got != 0.5 {
		t.Errorf("score = %v, want 0.5", got)
	}
	if result["verdict"] != "partial" {
		t.Errorf("verdict = %v", result["verdict"])
	}
	prompt := client.reqs[0].Prompt
	if !strings.Contains(prompt, "[Document 1]\ndoc one") || !strings.Contains(prompt, "[Document 2]\ndoc two") {
		t.Errorf("context not normalized with document markers:\n%s", prompt)
	}
}

// TestFactualAccuracy verifies per-fact score averaging.
func TestFactualAccuracy(t *testing.T) {
	client := &fakeClient{t: t, replies: []string{
		`{"facts": ["fact one", "fact two"]}`,
		`{"verdicts": [
			{"fact": "fact one", "verdict": "yes", "reasoning": "supported"},
			{"fact": "fact two", "verdict": "unclear", "reasoning": "not addressed"}
		]}`,
	}}

	result, err := Run(context.Background(), client, "factual_accuracy", "haiku", map[string]any{
		"question": "q",
		"context":  "c",
		"response": "r",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result["score"].(float64); got != 0.75 {
		t.Errorf("score = %v, want 0.75", got)
	}
}

// TestRunRequiredKeys verifies missing and nil arguments are rejected before
// any LLM call.
func TestRunRequiredKeys(t *testing.T) {
	client := &fakeClient{t: t}
	_, err := Run(context.Background(), client, "summarization", "haiku", map[string]any{
		"source": "text",
	})
	if err == nil || !strings.Contains(err.Error(), "requires key 'summary'") {
		t.Errorf("missing key err = %v", err)
	}
	_, err = Run(context.Background(), client, "hallucination", "haiku", map[string]any{
		"context":  nil,
		"response": "r",
	})
	if err == nil || !strings.Contains(err.Error(), "requires key 'context'") {
		t.Errorf("nil key err = %v", err)
	}
	if len(client.reqs) != 0 {
		t.Errorf("made %d calls, want 0", len(client.reqs))
	}

	_, err = Run(context.Background(), client, "vibes", "haiku", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown strategy") {
		t.Errorf("unknown strategy err = %v", err)
	}
}

// TestStrategyMetadata verifies the catalog the validator builds on.
func TestStrategyMetadata(t *testing.T) {
	if !Known("faithfulness") || Known("vibes") {
		t.Error("Known misclassifies strategies")
	}
	names := Names()
	if !sortedStrings(names) || len(names) != 7 {
		t.Errorf("Names() = %v", names)
	}
	keys := RequiredKeys("context_conciseness")
	want := []string{"concise_context", "context", "question"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("RequiredKeys = %v, want %v", keys, want)
	}
	if RequiredKeys("vibes") != nil {
		t.Error("RequiredKeys for unknown strategy should be nil")
	}
	vocab := ArgumentVocabulary()
	wantVocab := []string{"concise_context", "context", "question", "response", "source", "summary"}
	if !reflect.DeepEqual(vocab, wantVocab) {
		t.Errorf("ArgumentVocabulary = %v", vocab)
	}
}

func sortedStrings(items []string) bool {
	for i := 1; i < len(items); i++ {
		if items[i-1] > items[i] {
			return false
		}
	}
	return true
}

// TestConciseness verifies the length-ratio component.
func TestConciseness(t *testing.T) {
	if got := conciseness("", "anything"); got != 1.0 {
		t.Errorf("empty source = %v, want 1.0", got)
	}
	if got := conciseness("abcd", "abcdefgh"); math.Abs(got) > 1e-9 {
		t.Errorf("summary longer than source = %v, want 0", got)
	}
	got := conciseness("0123456789", "0123")
	if math.Abs(got-0.6) > 1e-6 {
		t.Errorf("conciseness = %v, want ~0.6", got)
	}
}
