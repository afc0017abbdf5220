package vectordb

// Point is one stored vector plus its payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Filter holds exact-match conditions combined with AND.
type Filter map[string]interface{}

// qdrantFilter renders the wire form: {"must": [{"key": k, "match": {"value": v}}]}.
// Slice values render as {"match": {"any": [...]}}.
func (f Filter) qdrantFilter() map[string]interface{} {
	if len(f) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(f))
	for key, value := range f {
		match := map[string]interface{}{"value": value}
		switch v := value.(type) {
		case []string:
			match = map[string]interface{}{"any": v}
		case []interface{}:
			match = map[string]interface{}{"any": v}
		}
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": match,
		})
	}
	return map[string]interface{}{"must": must}
}

type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
}

// HealthStatus is the result of the fast reachability probe.
type HealthStatus struct {
	Available bool   `json:"available"`
	URL       string `json:"url"`
	Error     string `json:"error,omitempty"`
}
