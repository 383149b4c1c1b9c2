// Package capture validates raw answers against session questions and decides completeness.
package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"intakeline/internal/domain"
)

const dateLayout = "2006-01-02"

// FieldError reports why a raw value was rejected for a question.
type FieldError struct {
	QuestionID string
	Message    string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.QuestionID, e.Message)
}

func fieldErr(qid, format string, args ...any) *FieldError {
	return &FieldError{QuestionID: qid, Message: fmt.Sprintf(format, args...)}
}

func find(questions []domain.Question, id string) (domain.Question, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

// Capture validates raw for the question with questionID and returns the normalized answer.
// A nil raw value yields an empty answer, which clears any stored response.
func Capture(questions []domain.Question, questionID string, raw any) (domain.Answer, error) {
	q, ok := find(questions, questionID)
	if !ok {
		return domain.Answer{}, fieldErr(questionID, "unknown question")
	}
	if raw == nil {
		return domain.Answer{Kind: q.Kind}, nil
	}
	switch q.Kind {
	case domain.KindShortText, domain.KindLongText:
		s, ok := raw.(string)
		if !ok {
			return domain.Answer{}, fieldErr(q.ID, "expected text")
		}
		return domain.TextAnswer(q.Kind, strings.TrimSpace(s)), nil
	case domain.KindNumeric:
		v, err := toNumber(raw)
		if err != nil {
			return domain.Answer{}, fieldErr(q.ID, "%v", err)
		}
		return domain.NumberAnswer(v), nil
	case domain.KindDate:
		s, ok := raw.(string)
		if !ok {
			return domain.Answer{}, fieldErr(q.ID, "expected a date string")
		}
		d, err := toDate(strings.TrimSpace(s))
		if err != nil {
			return domain.Answer{}, fieldErr(q.ID, "%v", err)
		}
		return domain.DateAnswer(d), nil
	case domain.KindSingleSelect:
		s, ok := raw.(string)
		if !ok {
			return domain.Answer{}, fieldErr(q.ID, "expected a single option")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.Answer{Kind: q.Kind}, nil
		}
		if !hasOption(q, s) {
			return domain.Answer{}, fieldErr(q.ID, "%q is not an option", s)
		}
		return domain.ChoiceAnswer(s), nil
	case domain.KindMultiSelect:
		items, err := toStrings(raw)
		if err != nil {
			return domain.Answer{}, fieldErr(q.ID, "%v", err)
		}
		seen := map[string]bool{}
		choices := []string{}
		for _, s := range items {
			s = strings.TrimSpace(s)
			if !hasOption(q, s) {
				return domain.Answer{}, fieldErr(q.ID, "%q is not an option", s)
			}
			if seen[s] {
				continue
			}
			seen[s] = true
			choices = append(choices, s)
		}
		return domain.ChoicesAnswer(choices), nil
	}
	return domain.Answer{}, fieldErr(q.ID, "unsupported question kind %q", q.Kind)
}

// CaptureBatch validates every entry independently. Accepted answers and per-question errors are
// returned side by side.
func CaptureBatch(questions []domain.Question, raw map[string]any) (map[string]domain.Answer, map[string]error) {
	accepted := map[string]domain.Answer{}
	errs := map[string]error{}
	for qid, v := range raw {
		a, err := Capture(questions, qid, v)
		if err != nil {
			errs[qid] = err
			continue
		}
		accepted[qid] = a
	}
	return accepted, errs
}

// Missing returns the required questions without a non-empty answer, in question order.
func Missing(questions []domain.Question, responses map[string]domain.Answer) []domain.Question {
	var res []domain.Question
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if a, ok := responses[q.ID]; !ok || a.IsEmpty() {
			res = append(res, q)
		}
	}
	return res
}

// IsComplete reports whether every required question has a non-empty answer.
func IsComplete(questions []domain.Question, responses map[string]domain.Answer) bool {
	return len(Missing(questions, responses)) == 0
}

func hasOption(q domain.Question, s string) bool {
	for _, o := range q.Options {
		if o == s {
			return true
		}
	}
	return false
}

func toNumber(raw any) (float64, error) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n.String())
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		v = f
	default:
		return 0, fmt.Errorf("expected a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("number must be finite")
	}
	return v, nil
}

func toDate(s string) (string, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(dateLayout), nil
	}
	return "", fmt.Errorf("%q is not a valid date", s)
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of options")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of options")
}
