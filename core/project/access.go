package project

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// TraineeAllowedFields is the allow-list of Progress fields a trainee may
// write through the self-progress update.
var TraineeAllowedFields = map[string]struct{}{
	"status":          {},
	"report":          {},
	"deployment_link": {},
	"github_link":     {},
	"completed_at":    {},
}

// transport-artifact keys that may appear in request bodies but carry no
// entity fields; ignored for permission checks.
var ignoredBodyKeys = map[string]struct{}{
	"csrfmiddlewaretoken": {},
}

var ErrNoUpdatableFields = errors.New("no updatable fields provided")

// FieldScopeError denies a write whose field set escapes the allow-list.
type FieldScopeError struct {
	// Fields are the offending extra field names, sorted.
	Fields []string
}

func (err FieldScopeError) Error() string {
	return "fields not allowed: " + strings.Join(err.Fields, ", ")
}

// CheckTraineeProgressFields decides whether a trainee-submitted body may be
// applied to their Progress entry. The body's key set, minus transport
// artifacts, must be a non-empty subset of TraineeAllowedFields.
func CheckTraineeProgressFields(body []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return ErrNoUpdatableFields
	}

	var extra []string
	var count int
	for key := range raw {
		if _, ok := ignoredBodyKeys[key]; ok {
			continue
		}
		count++
		if _, ok := TraineeAllowedFields[key]; !ok {
			extra = append(extra, key)
		}
	}

	if count == 0 {
		return ErrNoUpdatableFields
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return &FieldScopeError{Fields: extra}
	}
	return nil
}
