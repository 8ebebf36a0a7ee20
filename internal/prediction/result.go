package prediction

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MinProbability is the exclusive lower bound for a condition to be kept.
const MinProbability = 0.10

// Recommendation is a product suggested by the classification service.
type Recommendation struct {
	ProductName  string `json:"product_name"`
	ProductImage string `json:"product_image"`
	ProductURL   string `json:"product_url,omitempty"`
}

// Condition is a single condition/probability pair.
type Condition struct {
	Name        string  `json:"condition"`
	Probability float64 `json:"probability"`
}

// Result is a filtered, display-ordered prediction.
type Result struct {
	Predictions     *orderedmap.OrderedMap[string, float64] `json:"predictions"`
	Recommendations map[string][]Recommendation            `json:"recommendations"`
}

// Conditions returns the predictions in display order.
func (r *Result) Conditions() []Condition {
	if r == nil || r.Predictions == nil {
		return nil
	}
	return entries(r.Predictions)
}

// FilterAndSort orders conditions by probability descending, keeping the
// original order for equal probabilities, and drops every condition whose
// probability is not strictly above MinProbability.
func FilterAndSort(predictions *orderedmap.OrderedMap[string, float64]) *orderedmap.OrderedMap[string, float64] {
	out := orderedmap.New[string, float64]()
	if predictions == nil {
		return out
	}

	sorted := entries(predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})

	for _, c := range sorted {
		if c.Probability > MinProbability {
			out.Set(c.Name, c.Probability)
		}
	}
	return out
}

func entries(m *orderedmap.OrderedMap[string, float64]) []Condition {
	out := make([]Condition, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Condition{Name: pair.Key, Probability: pair.Value})
	}
	return out
}

// checkRecommendations enforces that every kept condition has a
// recommendations entry, even an empty one.
func checkRecommendations(predictions *orderedmap.OrderedMap[string, float64], recommendations map[string][]Recommendation) error {
	for pair := predictions.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := recommendations[pair.Key]; !ok {
			return fmt.Errorf("no recommendations entry for condition %q", pair.Key)
		}
	}
	return nil
}
