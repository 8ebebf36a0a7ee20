package controller

import (
	"fmt"

	"github.com/example/face-analysis/internal/prediction"
	"github.com/example/face-analysis/internal/tips"
)

const (
	// MaxTipsShown caps how many tips the panel shows at once.
	MaxTipsShown = 3
	// MaxProductsPerTip caps the suggested products shown per tip.
	MaxProductsPerTip = 3

	SubmitLabel  = "Predict"
	LoadingLabel = "Predicting..."
)

// View is the render contract consumed by the view layer.
type View struct {
	SessionID         string          `json:"session_id"`
	PreviewURL        string          `json:"preview_url,omitempty"`
	Loading           bool            `json:"loading"`
	SubmitEnabled     bool            `json:"submit_enabled"`
	SubmitLabel       string          `json:"submit_label"`
	HasPrediction     bool            `json:"has_prediction"`
	Predictions       []PredictionRow `json:"predictions"`
	TipsButtonEnabled bool            `json:"tips_button_enabled"`
	Tips              *TipPanel       `json:"tips,omitempty"`
}

// PredictionRow is one line of the predictions table.
type PredictionRow struct {
	Condition        string                      `json:"condition"`
	Probability      float64                     `json:"probability"`
	Percentage       string                      `json:"percentage"`
	Recommendations  []prediction.Recommendation `json:"recommendations"`
	NoRecommendation bool                        `json:"no_recommendation"`
}

// TipPanel is the visible page of aesthetic tips.
type TipPanel struct {
	Cursor int        `json:"cursor"`
	Total  int        `json:"total"`
	Tips   []tips.Tip `json:"tips"`
}

// Render builds the view for state.
func Render(sessionID string, state SessionState) View {
	view := View{
		SessionID:         sessionID,
		PreviewURL:        state.Preview,
		Loading:           state.Loading,
		SubmitEnabled:     !state.Loading,
		SubmitLabel:       SubmitLabel,
		HasPrediction:     state.Prediction != nil,
		Predictions:       []PredictionRow{},
		TipsButtonEnabled: !state.TipsVisible,
	}
	if state.Loading {
		view.SubmitLabel = LoadingLabel
	}

	for _, c := range state.Prediction.Conditions() {
		recs := state.Prediction.Recommendations[c.Name]
		view.Predictions = append(view.Predictions, PredictionRow{
			Condition:        c.Name,
			Probability:      c.Probability,
			Percentage:       FormatPercentage(c.Probability),
			Recommendations:  recs,
			NoRecommendation: len(recs) == 0,
		})
	}

	if state.TipsVisible {
		view.Tips = &TipPanel{
			Cursor: state.TipCursor,
			Total:  len(state.Tips),
			Tips:   visibleTips(state.Tips),
		}
	}
	return view
}

// FormatPercentage renders a probability as a percentage with two decimals.
func FormatPercentage(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

// visibleTips always pages from the start of the list; the cursor is
// reported separately.
func visibleTips(all []tips.Tip) []tips.Tip {
	n := len(all)
	if n > MaxTipsShown {
		n = MaxTipsShown
	}
	out := make([]tips.Tip, 0, n)
	for _, tip := range all[:n] {
		products := tip.Products
		if len(products) > MaxProductsPerTip {
			products = products[:MaxProductsPerTip]
		}
		out = append(out, tips.Tip{
			Title:       tip.Title,
			Description: tip.Description,
			Products:    products,
		})
	}
	return out
}
