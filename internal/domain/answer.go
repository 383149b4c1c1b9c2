package domain

import (
	"strconv"
	"strings"
)

// Answer is a captured response. Kind selects which value field is meaningful.
type Answer struct {
	Kind    QuestionKind `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Number  *float64     `json:"number,omitempty"`
	Date    string       `json:"date,omitempty"`
	Choice  string       `json:"choice,omitempty"`
	Choices []string     `json:"choices,omitempty"`
}

func TextAnswer(kind QuestionKind, s string) Answer { return Answer{Kind: kind, Text: s} }

func NumberAnswer(v float64) Answer { return Answer{Kind: KindNumeric, Number: &v} }

func DateAnswer(d string) Answer { return Answer{Kind: KindDate, Date: d} }

func ChoiceAnswer(c string) Answer { return Answer{Kind: KindSingleSelect, Choice: c} }

func ChoicesAnswer(cs []string) Answer { return Answer{Kind: KindMultiSelect, Choices: cs} }

// IsEmpty reports whether the answer carries no usable value for its kind.
func (a Answer) IsEmpty() bool {
	switch a.Kind {
	case KindShortText, KindLongText:
		return strings.TrimSpace(a.Text) == ""
	case KindNumeric:
		return a.Number == nil
	case KindDate:
		return a.Date == ""
	case KindSingleSelect:
		return a.Choice == ""
	case KindMultiSelect:
		return len(a.Choices) == 0
	}
	return true
}

// String renders the answer for prompts and tables.
func (a Answer) String() string {
	switch a.Kind {
	case KindShortText, KindLongText:
		return a.Text
	case KindNumeric:
		if a.Number == nil {
			return ""
		}
		return strconv.FormatFloat(*a.Number, 'f', -1, 64)
	case KindDate:
		return a.Date
	case KindSingleSelect:
		return a.Choice
	case KindMultiSelect:
		return strings.Join(a.Choices, ", ")
	}
	return ""
}
