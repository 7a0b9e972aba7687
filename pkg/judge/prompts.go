package judge

import "encoding/json"

// Prompt text for each judge call. User prompts are fmt.Sprintf templates;
// the placeholder order matches the argument order at the call site.

const (
	keyphraseSystem = "You are a precise information extraction system. Extract only the most important entities and concepts."

	keyphrasePrompt = `Extract the most important keyphrases from the following text.
Include: people, organizations, dates, locations, key concepts, findings, and technical terms.
Return 5-20 keyphrases ordered by importance.

Text:
%s`

	questionSystem = "You are a question generation system. Generate closed-ended yes/no questions that test whether a text covers specific information."

	questionPrompt = `Given these keyphrases extracted from a source text, generate one closed-ended yes/no question per keyphrase.
Each question should be answerable from the source text with a simple YES or NO.

Keyphrases:
%s

Source text:
%s`

	answerSystem = "You are a careful reading comprehension evaluator. Determine if a summary contains enough information to answer each question."

	answerPrompt = `For each question below, determine if the following summary contains enough information to answer it.
Answer YES if the summary provides sufficient information, NO if it does not.

Summary:
%s

Questions:
%s`

	claimsSystem = "You are a precise claim decomposition system. Break text into atomic factual statements. Use explicit nouns instead of pronouns."

	claimsPrompt = `Break the following text into atomic factual claims.
Each claim should be a single, self-contained factual statement.
Use explicit nouns (no pronouns like "it", "they", "this").
Skip opinions, meta-statements, and subjective assessments.

Text:
%s`

	supportSystem = "You are a natural language inference system. For each claim, determine if the source text supports it."

	supportPrompt = `For each claim below, determine if the source text supports it.
Score 1 if the source clearly supports the claim, 0 if it does not or contradicts it.

Source text:
%s

Claims:
%s`

	contradictionSystem = "You are a natural language inference system specialized in detecting contradictions. For each claim, determine if the context supports it, is neutral, or contradicts it."

	contradictionPrompt = `For each claim below, determine its relationship to the context.

- "supported": The context clearly supports this claim.
- "neutral": The context neither supports nor contradicts this claim (the claim may be true but isn't addressed in the context).
- "contradicted": The context directly contradicts this claim.

Context:
%s

Claims:
%s`

	relevanceSystem = "You are a retrieval quality evaluator. Assess whether retrieved context contains sufficient information to answer a question."

	relevancePrompt = `Evaluate whether the following context contains sufficient information to answer the question.

Question:
%s

Context:
%s

Respond with:
- "full" if the context can completely answer the question.
- "partial" if the context provides some relevant information but not enough for a complete answer.
- "none" if the context does not contain any relevant information for the question.`

	utilizationSystem = "You are a response quality evaluator. Assess whether a response incorporated all relevant information from the provided context."

	utilizationPrompt = `Evaluate whether the response incorporated all relevant information from the context to answer the question.
Focus on whether the response makes use of the context, not on stylistic quality.

Question:
%s

Context:
%s

Response:
%s

Respond with:
- "full" if the response incorporates ALL relevant information from the context.
- "partial" if the response uses SOME relevant context information but misses important parts.
- "none" if the response does not incorporate ANY information from the context.`

	concisenessSystem = "You are a context compression evaluator. Assess whether a condensed version of context retains all information relevant to a question."

	concisenessPrompt = `Evaluate whether the concise context retains all relevant information from the original context for answering the question.

Question:
%s

Original context:
%s

Concise context:
%s

Respond with:
- "full" if the concise context retains ALL information relevant to answering the question.
- "partial" if the concise context retains SOME but loses important relevant information.
- "none" if the concise context loses most or all relevant information.`

	factExtractSystem = "You are a precise fact extraction system. Extract independent, atomic factual statements from text."

	factExtractPrompt = `Extract the key factual statements from the following response.
Each fact should be independent and self-contained.
Use explicit nouns (no pronouns). Limit to 10 facts maximum.

Response:
%s`

	factVerifySystem = "You are a fact verification system. For each fact, determine whether the context supports it."

	factVerifyPrompt = `For each fact below, determine if the context supports it.

- "yes": The context clearly supports this fact.
- "unclear": The context does not clearly confirm or deny this fact.
- "no": The context contradicts this fact or the fact is clearly unsupported.

Question (for reference):
%s

Context:
%s

Facts:
%s`
)

// Response schemas for each call, sent as strict json_schema formats.

var keyphraseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"keyphrases": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["keyphrases"],
	"additionalProperties": false
}`)

var questionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"questions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"keyphrase": {"type": "string"},
					"question": {"type": "string"}
				},
				"required": ["keyphrase", "question"],
				"additionalProperties": false
			}
		}
	},
	"required": ["questions"],
	"additionalProperties": false
}`)

var answerSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"answers": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"question": {"type": "string"},
					"answer": {"type": "string", "enum": ["YES", "NO"]},
					"reasoning": {"type": "string"}
				},
				"required": ["question", "answer", "reasoning"],
				"additionalProperties": false
			}
		}
	},
	"required": ["answers"],
	"additionalProperties": false
}`)

var claimsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"claims": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"claim": {"type": "string"},
					"original_sentence": {"type": "string"}
				},
				"required": ["claim", "original_sentence"],
				"additionalProperties": false
			}
		}
	},
	"required": ["claims"],
	"additionalProperties": false
}`)

var supportSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"verdicts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"claim": {"type": "string"},
					"verdict": {"type": "integer", "enum": [0, 1]},
					"reasoning": {"type": "string"}
				},
				"required": ["claim", "verdict", "reasoning"],
				"additionalProperties": false
			}
		}
	},
	"required": ["verdicts"],
	"additionalProperties": false
}`)

var contradictionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"verdicts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"claim": {"type": "string"},
					"verdict": {"type": "string", "enum": ["supported", "neutral", "contradicted"]},
					"reasoning": {"type": "string"}
				},
				"required": ["claim", "verdict", "reasoning"],
				"additionalProperties": false
			}
		}
	},
	"required": ["verdicts"],
	"additionalProperties": false
}`)

var threeWaySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"verdict": {"type": "string", "enum": ["full", "partial", "none"]},
		"reasoning": {"type": "string"}
	},
	"required": ["verdict", "reasoning"],
	"additionalProperties": false
}`)

var factExtractSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"facts": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["facts"],
	"additionalProperties": false
}`)

var factVerifySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"verdicts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"fact": {"type": "string"},
					"verdict": {"type": "string", "enum": ["yes", "unclear", "no"]},
					"reasoning": {"type": "string"}
				},
				"required": ["fact", "verdict", "reasoning"],
				"additionalProperties": false
			}
		}
	},
	"required": ["verdicts"],
	"additionalProperties": false
}`)
