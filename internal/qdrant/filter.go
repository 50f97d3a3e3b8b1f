package qdrant

// Filter is a compound payload filter. All Must conditions combine with
// logical AND.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition is either an exact field match (Key+Match) or a nested OR group
// (Should), never both.
type Condition struct {
	Key    string      `json:"key,omitempty"`
	Match  *Match      `json:"match,omitempty"`
	Should []Condition `json:"should,omitempty"`
}

// Match is an exact-value match on a payload field.
type Match struct {
	Value any `json:"value"`
}

// MatchValue builds an exact-match condition on a payload field.
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: &Match{Value: value}}
}

// AnyOf builds a condition satisfied when at least one member matches.
func AnyOf(conds ...Condition) Condition {
	return Condition{Should: conds}
}
