// Package judge scores pipeline outputs with LLM-as-judge strategies.
// Each strategy makes one to three single-turn structured completions and
// reduces the verdicts to a score in [0, 1] plus a breakdown record.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ormasoftchile/flume/pkg/llm"
)

type strategyInfo struct {
	// requiredKeys is sorted; every key must resolve to a non-nil argument.
	requiredKeys []string
	run          func(ctx context.Context, c caller, args map[string]any) (map[string]any, error)
}

var strategies = map[string]strategyInfo{
	"summarization":       {[]string{"source", "summary"}, runSummarization},
	"faithfulness":        {[]string{"response", "source"}, runFaithfulness},
	"hallucination":       {[]string{"context", "response"}, runHallucination},
	"context_relevance":   {[]string{"context", "question"}, runContextRelevance},
	"context_utilization": {[]string{"context", "question", "response"}, runContextUtilization},
	"factual_accuracy":    {[]string{"context", "question", "response"}, runFactualAccuracy},
	"context_conciseness": {[]string{"concise_context", "context", "question"}, runContextConciseness},
}

// Known reports whether name is a recognized strategy.
func Known(name string) bool {
	_, ok := strategies[name]
	return ok
}

// Names returns all strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredKeys returns the sorted argument keys a strategy needs, or nil for
// an unknown strategy.
func RequiredKeys(name string) []string {
	info, ok := strategies[name]
	if !ok {
		return nil
	}
	keys := make([]string, len(info.requiredKeys))
	copy(keys, info.requiredKeys)
	return keys
}

// ArgumentVocabulary returns the sorted union of argument keys used by any
// strategy.
func ArgumentVocabulary() []string {
	seen := map[string]bool{}
	for _, info := range strategies {
		for _, key := range info.requiredKeys {
			seen[key] = true
		}
	}
	vocab := make([]string, 0, len(seen))
	for key := range seen {
		vocab = append(vocab, key)
	}
	sort.Strings(vocab)
	return vocab
}

// Run executes the named strategy against resolved arguments and returns its
// score record. Required keys are checked for presence first; a nil value
// counts as missing.
func Run(ctx context.Context, client llm.Client, strategy, model string, args map[string]any) (map[string]any, error) {
	info, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy '%s'", strategy)
	}
	for _, key := range info.requiredKeys {
		if args[key] == nil {
			return nil, fmt.Errorf("strategy '%s' requires key '%s' in arguments", strategy, key)
		}
	}
	return info.run(ctx, caller{client: client, model: model}, args)
}

// caller binds a client and model alias for the span of one strategy run.
type caller struct {
	client llm.Client
	model  string
}

func (c caller) structured(ctx context.Context, system, prompt, schemaName string, schema json.RawMessage, out any) error {
	resp, err := c.client.Complete(ctx, llm.Request{
		Model:      c.model,
		System:     system,
		Prompt:     prompt,
		SchemaName: schemaName,
		Schema:     schema,
	})
	if err != nil {
		return err
	}
	return llm.DecodeStructured(resp, out)
}

// Reply shapes for the structured calls.

type questionItem struct {
	Keyphrase string `json:"keyphrase"`
	Question  string `json:"question"`
}

type answerItem struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Reasoning string `json:"reasoning"`
}

type claimItem struct {
	Claim            string `json:"claim"`
	OriginalSentence string `json:"original_sentence"`
}

type supportVerdict struct {
	Claim     string `json:"claim"`
	Verdict   int    `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

type contradictionVerdict struct {
	Claim     string `json:"claim"`
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

type factVerdict struct {
	Fact      string `json:"fact"`
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

var threeWayScores = map[string]float64{
	"full":    1.0,
	"partial": 0.5,
	"none":    0.0,
}

var factVerdictScores = map[string]float64{
	"yes":     1.0,
	"unclear": 0.5,
	"no":      0.0,
}

// runSummarization scores a summary with keyphrase QA plus a conciseness
// term. Three calls: extract keyphrases from the source, generate one yes/no
// question per keyphrase, then check whether the summary can answer each.
// Score is qa_score*0.5 + conciseness*0.5.
func runSummarization(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	source := stringify(args["source"])
	summary := stringify(args["summary"])

	var kp struct {
		Keyphrases []string `json:"keyphrases"`
	}
	err := c.structured(ctx, keyphraseSystem, fmt.Sprintf(keyphrasePrompt, source), "keyphrases", keyphraseSchema, &kp)
	if err != nil {
		return nil, fmt.Errorf("extract keyphrases: %w", err)
	}
	if len(kp.Keyphrases) == 0 {
		return map[string]any{
			"score":           0.0,
			"qa_score":        0.0,
			"conciseness":     conciseness(source, summary),
			"total_questions": 0,
			"correct_answers": 0,
			"keyphrases":      []string{},
			"questions":       []any{},
			"answers":         []any{},
		}, nil
	}

	var qs struct {
		Questions []questionItem `json:"questions"`
	}
	prompt := fmt.Sprintf(questionPrompt, bulleted(kp.Keyphrases), source)
	if err := c.structured(ctx, questionSystem, prompt, "questions", questionSchema, &qs); err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	if len(qs.Questions) == 0 {
		return map[string]any{
			"score":           0.0,
			"qa_score":        0.0,
			"conciseness":     conciseness(source, summary),
			"total_questions": 0,
			"correct_answers": 0,
			"keyphrases":      kp.Keyphrases,
			"questions":       []any{},
			"answers":         []any{},
		}, nil
	}

	questionTexts := make([]string, len(qs.Questions))
	for i, q := range qs.Questions {
		questionTexts[i] = q.Question
	}
	var ans struct {
		Answers []answerItem `json:"answers"`
	}
	prompt = fmt.Sprintf(answerPrompt, summary, numbered(questionTexts))
	if err := c.structured(ctx, answerSystem, prompt, "answers", answerSchema, &ans); err != nil {
		return nil, fmt.Errorf("answer questions: %w", err)
	}

	correct := 0
	for _, a := range ans.Answers {
		if a.Answer == "YES" {
			correct++
		}
	}
	total := len(qs.Questions)
	qaScore := float64(correct) / float64(total)
	concise := conciseness(source, summary)
	score := qaScore*0.5 + concise*0.5

	return map[string]any{
		"score":           round4(score),
		"qa_score":        round4(qaScore),
		"conciseness":     round4(concise),
		"total_questions": total,
		"correct_answers": correct,
		"keyphrases":      kp.Keyphrases,
		"questions":       jsonify(qs.Questions),
		"answers":         jsonify(ans.Answers),
	}, nil
}

// conciseness rewards summaries shorter than their source. An empty source
// scores 1.0.
func conciseness(source, summary string) float64 {
	srcLen := float64(utf8.RuneCountInString(source))
	sumLen := float64(utf8.RuneCountInString(summary))
	if srcLen == 0 {
		return 1.0
	}
	return 1.0 - math.Min(sumLen, srcLen)/(srcLen+1e-10)
}

// runFaithfulness decomposes the response into atomic claims and checks each
// against the source. Score is supported/total; zero claims score 1.0.
func runFaithfulness(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	source := stringify(args["source"])
	response := stringify(args["response"])

	claims, err := extractClaims(ctx, c, response)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return map[string]any{
			"score":            1.0,
			"supported_claims": 0,
			"total_claims":     0,
			"claims":           []any{},
			"verdicts":         []any{},
		}, nil
	}

	var nli struct {
		Verdicts []supportVerdict `json:"verdicts"`
	}
	prompt := fmt.Sprintf(supportPrompt, source, numbered(claimTexts(claims)))
	if err := c.structured(ctx, supportSystem, prompt, "claim_verdicts", supportSchema, &nli); err != nil {
		return nil, fmt.Errorf("verify claims: %w", err)
	}

	supported := 0
	for _, v := range nli.Verdicts {
		if v.Verdict == 1 {
			supported++
		}
	}
	total := len(claims)
	score := float64(supported) / float64(total)

	return map[string]any{
		"score":            round4(score),
		"supported_claims": supported,
		"total_claims":     total,
		"claims":           jsonify(claims),
		"verdicts":         jsonify(nli.Verdicts),
	}, nil
}

// runHallucination decomposes the response into atomic claims and looks for
// direct contradictions with the context. Neutral claims do not penalize.
// Score is 1 - contradicted/total; zero claims score 1.0.
func runHallucination(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	contextText := normalizeContext(args["context"])
	response := stringify(args["response"])

	claims, err := extractClaims(ctx, c, response)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return map[string]any{
			"score":               1.0,
			"contradicted_claims": 0,
			"total_claims":        0,
			"claims":              []any{},
			"verdicts":            []any{},
		}, nil
	}

	var nli struct {
		Verdicts []contradictionVerdict `json:"verdicts"`
	}
	prompt := fmt.Sprintf(contradictionPrompt, contextText, numbered(claimTexts(claims)))
	if err := c.structured(ctx, contradictionSystem, prompt, "claim_verdicts", contradictionSchema, &nli); err != nil {
		return nil, fmt.Errorf("verify claims: %w", err)
	}

	contradicted := 0
	for _, v := range nli.Verdicts {
		if v.Verdict == "contradicted" {
			contradicted++
		}
	}
	total := len(claims)
	score := 1.0 - float64(contradicted)/float64(total)

	return map[string]any{
		"score":               round4(score),
		"contradicted_claims": contradicted,
		"total_claims":        total,
		"claims":              jsonify(claims),
		"verdicts":            jsonify(nli.Verdicts),
	}, nil
}

func extractClaims(ctx context.Context, c caller, response string) ([]claimItem, error) {
	var reply struct {
		Claims []claimItem `json:"claims"`
	}
	err := c.structured(ctx, claimsSystem, fmt.Sprintf(claimsPrompt, response), "claims", claimsSchema, &reply)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	return reply.Claims, nil
}

func claimTexts(claims []claimItem) []string {
	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.Claim
	}
	return texts
}

// runContextRelevance asks a single 3-way question: can the context answer
// the question at all? This judges the retriever, not the generator.
func runContextRelevance(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(relevancePrompt, stringify(args["question"]), normalizeContext(args["context"]))
	return threeWayCall(ctx, c, relevanceSystem, prompt)
}

// runContextUtilization asks whether the response incorporated all relevant
// information from the context.
func runContextUtilization(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(utilizationPrompt,
		stringify(args["question"]),
		normalizeContext(args["context"]),
		stringify(args["response"]))
	return threeWayCall(ctx, c, utilizationSystem, prompt)
}

// runContextConciseness asks whether a condensed context retains everything
// relevant from the original.
func runContextConciseness(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(concisenessPrompt,
		stringify(args["question"]),
		normalizeContext(args["context"]),
		normalizeContext(args["concise_context"]))
	return threeWayCall(ctx, c, concisenessSystem, prompt)
}

func threeWayCall(ctx context.Context, c caller, system, prompt string) (map[string]any, error) {
	var reply struct {
		Verdict   string `json:"verdict"`
		Reasoning string `json:"reasoning"`
	}
	if err := c.structured(ctx, system, prompt, "context_verdict", threeWaySchema, &reply); err != nil {
		return nil, fmt.Errorf("judge context: %w", err)
	}
	verdict := reply.Verdict
	if verdict == "" {
		verdict = "none"
	}
	return map[string]any{
		"score":     threeWayScores[verdict],
		"verdict":   verdict,
		"reasoning": reply.Reasoning,
	}, nil
}

// runFactualAccuracy extracts up to ten facts from the response and verifies
// each against the context with a yes/unclear/no verdict. Score is the mean
// per-fact score; zero facts score 1.0.
func runFactualAccuracy(ctx context.Context, c caller, args map[string]any) (map[string]any, error) {
	question := stringify(args["question"])
	contextText := normalizeContext(args["context"])
	response := stringify(args["response"])

	var extract struct {
		Facts []string `json:"facts"`
	}
	err := c.structured(ctx, factExtractSystem, fmt.Sprintf(factExtractPrompt, response), "facts", factExtractSchema, &extract)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	if len(extract.Facts) == 0 {
		return map[string]any{
			"score":    1.0,
			"facts":    []string{},
			"verdicts": []any{},
		}, nil
	}

	var verify struct {
		Verdicts []factVerdict `json:"verdicts"`
	}
	prompt := fmt.Sprintf(factVerifyPrompt, question, contextText, numbered(extract.Facts))
	if err := c.structured(ctx, factVerifySystem, prompt, "fact_verdicts", factVerifySchema, &verify); err != nil {
		return nil, fmt.Errorf("verify facts: %w", err)
	}

	score := 1.0
	if len(verify.Verdicts) > 0 {
		sum := 0.0
		for _, v := range verify.Verdicts {
			sum += factVerdictScores[v.Verdict]
		}
		score = sum / float64(len(verify.Verdicts))
	}

	return map[string]any{
		"score":    round4(score),
		"facts":    extract.Facts,
		"verdicts": jsonify(verify.Verdicts),
	}, nil
}

// stringify renders an argument for prompt text. Strings pass through;
// everything else is JSON-encoded.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// normalizeContext joins list-shaped context into one string with document
// markers so multi-chunk retrievals judge as a single body of text.
func normalizeContext(v any) string {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, s := range list {
			items[i] = s
		}
	default:
		return stringify(v)
	}
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("[Document %d]\n%s", i+1, stringify(item))
	}
	return strings.Join(parts, "\n\n")
}

func bulleted(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

// jsonify converts typed reply values into plain JSON shapes (maps and
// slices) so downstream expressions index them like any other step output.
func jsonify(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
