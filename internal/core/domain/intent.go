package domain

import "math"

type Intent string

const (
	IntentGoalReached Intent = "goal_reached"
	IntentQuestion    Intent = "question"
)

type GoalType string

const (
	GoalNone      GoalType = ""
	GoalViewing   GoalType = "viewing"
	GoalSalesCall GoalType = "sales_call"
	GoalOther     GoalType = "other"
)

// Label is the human wording used in notifications and acknowledgments.
func (g GoalType) Label() string {
	switch g {
	case GoalViewing:
		return "property viewing"
	case GoalSalesCall:
		return "sales call"
	default:
		return "next step"
	}
}

func (g GoalType) Title() string {
	switch g {
	case GoalViewing:
		return "Property Viewing"
	case GoalSalesCall:
		return "Sales Call"
	default:
		return "Next Step"
	}
}

type IntentResult struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	GoalType   GoalType `json:"goal_type,omitempty"`
	Reasoning  string   `json:"reasoning"`
}

func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
