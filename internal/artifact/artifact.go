// Package artifact holds the output schemas handed to the generation backend and the checks
// applied to whatever comes back.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"intakeline/internal/domain"
)

// Problems lists every rule a payload broke.
type Problems []string

func (p Problems) Error() string {
	return "invalid artifact: " + strings.Join(p, "; ")
}

func (p *Problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p Problems) orNil() error {
	if len(p) == 0 {
		return nil
	}
	return p
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]json.RawMessage{}
)

func schemaFor(name string, v any) json.RawMessage {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[name]; ok {
		return s
	}
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflect %s schema: %v", name, err))
	}
	schemaCache[name] = data
	return data
}

// JobDescriptionSchema is the JSON Schema of a generated job description.
func JobDescriptionSchema() json.RawMessage {
	return schemaFor("job_description", &domain.JobDescription{})
}

// InterviewTemplateSchema is the JSON Schema of a generated interview template.
func InterviewTemplateSchema() json.RawMessage {
	return schemaFor("interview_template", &domain.InterviewTemplate{})
}

// QuestionSetSchema is the JSON Schema of a generated intake questionnaire.
func QuestionSetSchema() json.RawMessage {
	return schemaFor("question_set", &domain.GeneratedQuestionSet{})
}

func decode(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Problems{"empty payload"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return Problems{fmt.Sprintf("payload is not valid JSON for this artifact: %v", err)}
	}
	return nil
}

func checkText(p *Problems, field, v string) {
	if strings.TrimSpace(v) == "" {
		p.addf("%s is required", field)
	}
}

func checkList(p *Problems, field string, items []string, minItems, maxItems int) {
	if len(items) < minItems || len(items) > maxItems {
		p.addf("%s must have %d to %d items, got %d", field, minItems, maxItems, len(items))
	}
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			p.addf("%s[%d] is empty", field, i)
		}
	}
}

func checkEnum(p *Problems, field, v string, allowed ...string) {
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	p.addf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), v)
}

// DecodeJobDescription decodes and checks a job description payload.
func DecodeJobDescription(raw json.RawMessage) (domain.JobDescription, error) {
	var jd domain.JobDescription
	if err := decode(raw, &jd); err != nil {
		return jd, err
	}
	return jd, ValidateJobDescription(jd)
}

func ValidateJobDescription(jd domain.JobDescription) error {
	var p Problems
	checkText(&p, "title", jd.Title)
	checkText(&p, "description", jd.Description)
	checkEnum(&p, "experience_level", jd.ExperienceLevel, "entry", "mid", "senior", "lead", "executive")
	checkList(&p, "responsibilities", jd.Responsibilities, 5, 10)
	checkList(&p, "requirements", jd.Requirements, 5, 12)
	checkList(&p, "skills", jd.Skills, 8, 15)
	checkList(&p, "benefits", jd.Benefits, 6, 12)
	if jd.WorkArrangement != "" {
		checkEnum(&p, "work_arrangement", jd.WorkArrangement, "onsite", "hybrid", "remote")
	}
	return p.orNil()
}

// DecodeInterviewTemplate decodes and checks an interview template payload. interviewType, when
// set, must match the payload's own type.
func DecodeInterviewTemplate(raw json.RawMessage, interviewType string) (domain.InterviewTemplate, error) {
	var it domain.InterviewTemplate
	if err := decode(raw, &it); err != nil {
		return it, err
	}
	if interviewType != "" && it.InterviewType == "" {
		it.InterviewType = interviewType
	}
	if err := ValidateInterviewTemplate(it); err != nil {
		return it, err
	}
	if interviewType != "" && it.InterviewType != interviewType {
		return it, Problems{fmt.Sprintf("interview_type %q does not match requested %q", it.InterviewType, interviewType)}
	}
	return it, nil
}

func ValidateInterviewTemplate(it domain.InterviewTemplate) error {
	var p Problems
	checkText(&p, "title", it.Title)
	if !domain.ValidInterviewType(it.InterviewType) {
		p.addf("interview_type must be one of %s, got %q", strings.Join(domain.InterviewTypes, ", "), it.InterviewType)
	}
	if it.DurationMinutes < 15 || it.DurationMinutes > 240 {
		p.addf("duration_minutes must be within 15..240, got %d", it.DurationMinutes)
	}
	if len(it.Questions) < 5 || len(it.Questions) > 15 {
		p.addf("questions must have 5 to 15 items, got %d", len(it.Questions))
	}
	for i, q := range it.Questions {
		checkText(&p, fmt.Sprintf("questions[%d].question", i), q.Question)
		checkText(&p, fmt.Sprintf("questions[%d].category", i), q.Category)
		checkText(&p, fmt.Sprintf("questions[%d].purpose", i), q.Purpose)
		checkList(&p, fmt.Sprintf("questions[%d].look_for", i), q.LookFor, 1, 5)
	}
	checkList(&p, "evaluation_criteria", it.EvaluationCriteria, 3, 8)
	return p.orNil()
}

// DecodeQuestionSet decodes and checks a generated questionnaire. Question-level rules that also
// apply to authored templates are left to the template store.
func DecodeQuestionSet(raw json.RawMessage) (domain.GeneratedQuestionSet, error) {
	var qs domain.GeneratedQuestionSet
	if err := decode(raw, &qs); err != nil {
		return qs, err
	}
	var p Problems
	checkText(&p, "description", qs.Description)
	if len(qs.Questions) < 8 || len(qs.Questions) > 30 {
		p.addf("questions must have 8 to 30 items, got %d", len(qs.Questions))
	}
	return qs, p.orNil()
}
