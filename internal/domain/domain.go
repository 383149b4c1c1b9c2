package domain

// QuestionKind selects the input widget and the answer shape of a question.
type QuestionKind string

const (
	KindShortText    QuestionKind = "short_text"
	KindLongText     QuestionKind = "long_text"
	KindSingleSelect QuestionKind = "single_select"
	KindMultiSelect  QuestionKind = "multi_select"
	KindNumeric      QuestionKind = "numeric"
	KindDate         QuestionKind = "date"
)

// Valid reports whether k is one of the known kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindShortText, KindLongText, KindSingleSelect, KindMultiSelect, KindNumeric, KindDate:
		return true
	}
	return false
}

// IsSelect reports whether answers must come from the option list.
func (k QuestionKind) IsSelect() bool {
	return k == KindSingleSelect || k == KindMultiSelect
}

type Question struct {
	ID          string       `json:"id" yaml:"id,omitempty"`
	Prompt      string       `json:"prompt" yaml:"prompt"`
	Kind        QuestionKind `json:"kind" yaml:"kind" enum:"short_text,long_text,single_select,multi_select,numeric,date"`
	Category    string       `json:"category" yaml:"category"`
	Section     string       `json:"section,omitempty" yaml:"section,omitempty"`
	Required    bool         `json:"required" yaml:"required"`
	Order       int          `json:"order" yaml:"order,omitempty"`
	Placeholder string       `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText    string       `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Options     []string     `json:"options,omitempty" yaml:"options,omitempty"`
}

const (
	TemplateSourceAuthored  = "authored"
	TemplateSourceGenerated = "generated"
	TemplateSourceCloned    = "cloned"
)

type Template struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Questions      []Question `json:"questions"`
	IsDefault      bool       `json:"is_default"`
	Active         bool       `json:"active"`
	UsageCount     int        `json:"usage_count"`
	LastUsedAt     *string    `json:"last_used_at,omitempty" format:"date-time"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Source         string     `json:"source" enum:"authored,generated,cloned"`
	ClonedFrom     *string    `json:"cloned_from,omitempty"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      string     `json:"created_at" format:"date-time"`
	UpdatedAt      string     `json:"updated_at" format:"date-time"`
}

const (
	SessionDraft          = "draft"
	SessionCompleted      = "completed"
	SessionFollowUpNeeded = "follow_up_needed"
)

type Session struct {
	ID                 string                       `json:"id"`
	TemplateID         string                       `json:"template_id"`
	TemplateName       string                       `json:"template_name"`
	Questions          []Question                   `json:"questions"`
	ClientID           string                       `json:"client_id"`
	ConductorID        string                       `json:"conductor_id"`
	Status             string                       `json:"status" enum:"draft,completed,follow_up_needed"`
	ScheduledAt        *string                      `json:"scheduled_at,omitempty" format:"date-time"`
	DurationMinutes    int                          `json:"duration_minutes"`
	CompletedAt        *string                      `json:"completed_at,omitempty" format:"date-time"`
	Notes              string                       `json:"notes,omitempty"`
	FollowUpActions    []string                     `json:"follow_up_actions"`
	Attendees          []string                     `json:"attendees"`
	Responses          map[string]Answer            `json:"responses"`
	JobDescription     *JobDescriptionArtifact      `json:"job_description,omitempty"`
	InterviewTemplates map[string]InterviewArtifact `json:"interview_templates,omitempty"`
	CreatedAt          string                       `json:"created_at" format:"date-time"`
	UpdatedAt          string                       `json:"updated_at" format:"date-time"`
	ResponsesUpdatedAt *string                      `json:"responses_updated_at,omitempty" format:"date-time"`
}

// Question returns the snapshot question with the given id.
func (s Session) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

const (
	InvitationDelivered   = "delivered"
	InvitationAlreadySent = "already_sent"
	InvitationFailed      = "failed"
)

type Invitation struct {
	ID                string  `json:"id"`
	SessionID         string  `json:"session_id"`
	Email             string  `json:"email"`
	IdempotencyKey    string  `json:"idempotency_key"`
	Status            string  `json:"status" enum:"delivered,failed"`
	ErrorKind         string  `json:"error_kind,omitempty"`
	Error             string  `json:"error,omitempty"`
	MeetingLink       string  `json:"meeting_link,omitempty"`
	ScheduledFor      string  `json:"scheduled_for" format:"date-time"`
	ProviderMessageID string  `json:"provider_message_id,omitempty"`
	ActorID           string  `json:"actor_id"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	DeliveredAt       *string `json:"delivered_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
