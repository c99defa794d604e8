package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	intentTemperature       = 0.3
	intentDefaultConfidence = 0.5
)

var flatJSONObject = regexp.MustCompile(`(?s)\{[^{}]*\}`)

const intentOutputSchema = `{
	"type": "object",
	"properties": {
		"intent": {"type": "string"},
		"confidence": {"type": ["number", "string"]},
		"reasoning": {"type": ["string", "null"]},
		"goal_type": {"type": ["string", "null"]}
	}
}`

var intentSchema = mustSchema(intentOutputSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile json schema: %v", err))
	}
	return schema
}

type IntentClassifier struct {
	pool      ports.LLMPool
	observer  ports.PipelineObserver
	preferred []string
}

func NewIntentClassifier(pool ports.LLMPool, observer ports.PipelineObserver, preferred []string) *IntentClassifier {
	return &IntentClassifier{pool: pool, observer: observerOrNoop(observer), preferred: preferred}
}

func (c *IntentClassifier) ClassifyIntent(ctx context.Context, message, projectName, leadName string) domain.IntentResult {
	prompt := buildIntentPrompt(message, projectName, leadName)

	result := firstSuccess(ctx, "intent_classifier", c.pool.Candidates(intentTemperature, c.preferred...), c.observer,
		func(ctx context.Context, candidate ports.LLMCandidate) (domain.IntentResult, error) {
			raw, err := candidate.LLM.Invoke(ctx, prompt)
			if err != nil {
				return domain.IntentResult{}, err
			}
			return ParseIntentOutput(raw)
		})
	if !result.ok() {
		joined := strings.Join(result.Errors, "; ")
		slog.Error("intent_classification_failed", "errors", joined)
		return domain.IntentResult{
			Intent:     domain.IntentQuestion,
			Confidence: intentDefaultConfidence,
			Reasoning:  "Classification failed with all providers: " + joined,
		}
	}

	slog.Debug("intent_classified",
		"provider", result.Provider,
		"intent", string(result.Value.Intent),
		"confidence", result.Value.Confidence,
	)
	return result.Value
}

// ParseIntentOutput extracts the first flat JSON object from model output,
// falling back to the whole text, and normalizes it into an IntentResult.
func ParseIntentOutput(raw string) (domain.IntentResult, error) {
	content := strings.TrimSpace(raw)
	candidate := content
	if match := flatJSONObject.FindString(content); match != "" {
		candidate = match
	}

	validation, err := intentSchema.Validate(gojsonschema.NewStringLoader(candidate))
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("decode intent json: %w", err)
	}
	if !validation.Valid() {
		msgs := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			msgs = append(msgs, desc.String())
		}
		return domain.IntentResult{}, fmt.Errorf("intent json does not match schema: %s", strings.Join(msgs, "; "))
	}

	var payload struct {
		Intent     *string         `json:"intent"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  *string         `json:"reasoning"`
		GoalType   *string         `json:"goal_type"`
	}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return domain.IntentResult{}, fmt.Errorf("decode intent json: %w", err)
	}

	out := domain.IntentResult{Intent: domain.IntentQuestion}
	if payload.Intent != nil && domain.Intent(strings.ToLower(strings.TrimSpace(*payload.Intent))) == domain.IntentGoalReached {
		out.Intent = domain.IntentGoalReached
	}

	confidence, err := parseConfidence(payload.Confidence)
	if err != nil {
		return domain.IntentResult{}, err
	}
	out.Confidence = domain.ClampConfidence(confidence)

	if payload.Reasoning != nil {
		out.Reasoning = *payload.Reasoning
	}
	if out.Intent == domain.IntentGoalReached && payload.GoalType != nil {
		out.GoalType = normalizeGoalType(*payload.GoalType)
	}
	return out, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return intentDefaultConfidence, nil
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("decode confidence: %w", err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, errors.New("confidence is not a number")
	}
	return value, nil
}

func normalizeGoalType(raw string) domain.GoalType {
	switch goal := domain.GoalType(strings.ToLower(strings.TrimSpace(raw))); goal {
	case domain.GoalViewing, domain.GoalSalesCall, domain.GoalOther:
		return goal
	case domain.GoalNone:
		return domain.GoalNone
	default:
		return domain.GoalOther
	}
}

func buildIntentPrompt(message, projectName, leadName string) string {
	return fmt.Sprintf(`Analyze this customer email message and classify the intent.

Customer Message: "%s"
Project: %s
Lead Name: %s

Classify the intent into one of two categories:

1. **goal_reached**: The customer has clearly expressed intent to:
   - Schedule a property viewing/site visit
   - Book a sales call/meeting
   - Request a callback
   - Express strong buying interest with next steps
   - Ask for contact information to proceed

2. **question**: The customer is asking questions about:
   - Property features, amenities, facilities
   - Pricing, payment plans, offers
   - Location, nearby facilities
   - Unit types, specifications
   - General inquiries that need information retrieval

Respond in JSON format:
{
    "intent": "goal_reached" or "question",
    "confidence": 0.0 to 1.0,
    "reasoning": "Brief explanation",
    "goal_type": "viewing" or "sales_call" or "other" (only if intent is goal_reached, else null)
}

Be strict: Only classify as "goal_reached" if the customer has clearly expressed intent to take action (viewing, call, meeting). Questions about scheduling or "when can I visit" should be "question" unless they explicitly say "I want to schedule" or "book me a viewing".`,
		message, projectName, leadName)
}
