package domain

const (
	ArtifactJobDescription    = "job_description"
	ArtifactInterviewTemplate = "interview_template"

	ArtifactSourceGenerated = "generated"
	ArtifactSourceEdited    = "edited"
)

// Interview types accepted by interview template generation.
const (
	InterviewPhoneScreen = "phone_screen"
	InterviewTechnical   = "technical"
	InterviewBehavioral  = "behavioral"
	InterviewCulturalFit = "cultural_fit"
	InterviewFinal       = "final"
)

var InterviewTypes = []string{
	InterviewPhoneScreen,
	InterviewTechnical,
	InterviewBehavioral,
	InterviewCulturalFit,
	InterviewFinal,
}

func ValidInterviewType(t string) bool {
	for _, it := range InterviewTypes {
		if it == t {
			return true
		}
	}
	return false
}

// JobDescription is the structured output of job description generation.
type JobDescription struct {
	Title            string   `json:"title" jsonschema:"minLength=1"`
	ExperienceLevel  string   `json:"experience_level" jsonschema:"enum=entry,enum=mid,enum=senior,enum=lead,enum=executive"`
	Description      string   `json:"description" jsonschema:"minLength=1"`
	Responsibilities []string `json:"responsibilities" jsonschema:"minItems=5,maxItems=10"`
	Requirements     []string `json:"requirements" jsonschema:"minItems=5,maxItems=12"`
	Skills           []string `json:"skills" jsonschema:"minItems=8,maxItems=15"`
	Benefits         []string `json:"benefits" jsonschema:"minItems=6,maxItems=12"`
	Department       string   `json:"department,omitempty"`
	SalaryRange      string   `json:"salary_range,omitempty"`
	WorkArrangement  string   `json:"work_arrangement,omitempty" jsonschema:"enum=onsite,enum=hybrid,enum=remote"`
	CompanyBlurb     string   `json:"company_blurb,omitempty"`
}

type InterviewQuestion struct {
	Question string   `json:"question" jsonschema:"minLength=1"`
	Category string   `json:"category" jsonschema:"minLength=1"`
	Purpose  string   `json:"purpose" jsonschema:"minLength=1"`
	LookFor  []string `json:"look_for" jsonschema:"minItems=1,maxItems=5"`
	FollowUp string   `json:"follow_up,omitempty"`
}

// InterviewTemplate is the structured output of interview template generation.
type InterviewTemplate struct {
	Title              string              `json:"title" jsonschema:"minLength=1"`
	InterviewType      string              `json:"interview_type" jsonschema:"enum=phone_screen,enum=technical,enum=behavioral,enum=cultural_fit,enum=final"`
	DurationMinutes    int                 `json:"duration_minutes" jsonschema:"minimum=15,maximum=240"`
	Questions          []InterviewQuestion `json:"questions" jsonschema:"minItems=5,maxItems=15"`
	EvaluationCriteria []string            `json:"evaluation_criteria" jsonschema:"minItems=3,maxItems=8"`
	InterviewerNotes   string              `json:"interviewer_notes,omitempty"`
	RedFlags           []string            `json:"red_flags,omitempty"`
}

type ArtifactMeta struct {
	SessionID   string `json:"session_id"`
	Stale       bool   `json:"stale"`
	Source      string `json:"source" enum:"generated,edited"`
	Model       string `json:"model,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	GeneratedAt string `json:"generated_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type JobDescriptionArtifact struct {
	ArtifactMeta
	Payload JobDescription `json:"payload"`
}

type InterviewArtifact struct {
	ArtifactMeta
	InterviewType string            `json:"interview_type"`
	Payload       InterviewTemplate `json:"payload"`
}

// GeneratedQuestionSet is the structured output of AI template generation.
type GeneratedQuestionSet struct {
	Description string              `json:"description" jsonschema:"minLength=1"`
	Questions   []GeneratedQuestion `json:"questions" jsonschema:"minItems=8,maxItems=30"`
}

type GeneratedQuestion struct {
	Prompt      string   `json:"prompt" jsonschema:"minLength=1"`
	Kind        string   `json:"kind" jsonschema:"enum=short_text,enum=long_text,enum=single_select,enum=multi_select,enum=numeric,enum=date"`
	Category    string   `json:"category" jsonschema:"minLength=1"`
	Section     string   `json:"section,omitempty"`
	Required    bool     `json:"required"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
}
