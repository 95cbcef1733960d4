package orchestration

import "time"

// SessionPhase is the current stage of a therapy conversation. It is the
// primary axis for technique selection.
type SessionPhase string

const (
	PhaseOpening      SessionPhase = "opening"
	PhaseAssessment   SessionPhase = "assessment"
	PhaseIntervention SessionPhase = "intervention"
	PhasePractice     SessionPhase = "practice"
	PhaseClosing      SessionPhase = "closing"
)

// CrisisLevel is a discrete severity tier derived from a risk score.
type CrisisLevel string

const (
	CrisisNone      CrisisLevel = "none"
	CrisisLow       CrisisLevel = "low"
	CrisisMedium    CrisisLevel = "medium"
	CrisisHigh      CrisisLevel = "high"
	CrisisImmediate CrisisLevel = "immediate"
)

var crisisRank = map[CrisisLevel]int{
	CrisisNone:      0,
	CrisisLow:       1,
	CrisisMedium:    2,
	CrisisHigh:      3,
	CrisisImmediate: 4,
}

// Rank returns the ordering position of the level; unknown levels rank as none.
func (l CrisisLevel) Rank() int {
	return crisisRank[l]
}

// Turn is one prior message in the session, oldest first.
type Turn struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// CulturalContext carries the optional cultural adaptation inputs. A zero
// value means no adaptation is needed; absence of a field is never an error.
type CulturalContext struct {
	PrimaryLanguage         string `json:"primaryLanguage,omitempty"`
	ReligiousConsiderations bool   `json:"religiousConsiderations,omitempty"`
	FamilyOriented          bool   `json:"familyOriented,omitempty"`
}

// IsZero reports whether no cultural adaptation inputs are present.
func (c CulturalContext) IsZero() bool {
	return c.PrimaryLanguage == "" && !c.ReligiousConsiderations && !c.FamilyOriented
}

// SessionContext is assembled per request from the request body and the
// stores. CrisisLevel is the only field mutated in-flight: the controller
// escalates it when the crisis detector reports risk, and never downgrades it
// within the same request.
type SessionContext struct {
	SessionID   string
	UserID      string
	TherapistID string

	CurrentPhase   SessionPhase
	EmotionalState map[string]float64
	Cultural       CulturalContext
	History        []Turn

	CrisisLevel             CrisisLevel
	EngagementLevel         float64
	BreakthroughProbability float64
}

// CrisisAssessment is the output of the crisis signal detector, computed
// fresh per message and persisted to the monitoring store when risk > 0.
type CrisisAssessment struct {
	Detected           bool        `json:"detected"`
	UrgencyLevel       CrisisLevel `json:"urgencyLevel"`
	RiskScore          float64     `json:"riskScore"`
	Indicators         []string    `json:"indicators"`
	RecommendedActions []string    `json:"recommendedActions"`
}

// Technique is a named therapeutic intervention style.
type Technique string

const (
	TechniqueRapportBuilding        Technique = "rapport_building"
	TechniqueReflectiveQuestioning  Technique = "reflective_questioning"
	TechniqueBreathingExercises     Technique = "breathing_exercises"
	TechniqueBehavioralActivation   Technique = "behavioral_activation"
	TechniqueCognitiveRestructuring Technique = "cognitive_restructuring"
	TechniqueSkillPractice          Technique = "skill_practice"
	TechniqueSessionSummary         Technique = "session_summary"
	TechniqueActiveListening        Technique = "active_listening"
	TechniqueMindfulnessGrounding   Technique = "mindfulness_grounding"
)

// Approach is the stylistic mode paired with a technique.
type Approach string

const (
	ApproachWelcoming     Approach = "welcoming"
	ApproachExploratory   Approach = "exploratory"
	ApproachCalming       Approach = "calming"
	ApproachEncouraging   Approach = "encouraging"
	ApproachAnalytical    Approach = "analytical"
	ApproachInteractive   Approach = "interactive"
	ApproachConsolidating Approach = "consolidating"
	ApproachSupportive    Approach = "supportive"
)

// TechniqueSelection is the deterministic result of the technique selector.
type TechniqueSelection struct {
	Technique               Technique       `json:"technique"`
	Approach                Approach        `json:"approach"`
	CulturalAdaptations     map[string]bool `json:"culturalAdaptations"`
	Rationale               string          `json:"rationale"`
	EffectivenessPrediction float64         `json:"effectivenessPrediction"`
}

// Provider identifies which LLM backend serves a completion.
type Provider string

const (
	// ProviderBedrock is the advanced, crisis-capable provider.
	ProviderBedrock Provider = "bedrock"
	// ProviderGemini is the cost-efficient / culturally tuned provider.
	ProviderGemini Provider = "gemini"
)

// ModelChoice names the model and provider selected for a turn.
type ModelChoice struct {
	Model    string   `json:"model"`
	Provider Provider `json:"provider"`
}

// TherapistPersona shapes the voice of the generated response.
type TherapistPersona struct {
	Name               string `json:"name"`
	Title              string `json:"title"`
	CommunicationStyle string `json:"communicationStyle"`
}

// SessionStatus is the persisted per-session state read at the start of each
// request. Engagement and breakthrough are produced upstream; this core only
// reads them.
type SessionStatus struct {
	CrisisLevel             CrisisLevel `json:"crisisLevel"`
	EngagementLevel         float64     `json:"engagementLevel"`
	BreakthroughProbability float64     `json:"breakthroughProbability"`
}

// DecisionRecord is one append-only telemetry row per processed message.
type DecisionRecord struct {
	ID                     string          `json:"id"`
	SessionID              string          `json:"sessionId"`
	UserID                 string          `json:"userId"`
	Phase                  SessionPhase    `json:"phase"`
	Model                  string          `json:"model"`
	Provider               Provider        `json:"provider"`
	Technique              Technique       `json:"technique"`
	Approach               Approach        `json:"approach"`
	Rationale              string          `json:"rationale"`
	PredictedEffectiveness float64         `json:"predictedEffectiveness"`
	CulturalAdaptations    map[string]bool `json:"culturalAdaptations"`
	CrisisLevel            CrisisLevel     `json:"crisisLevel"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// QualityMetricsUpdate refreshes the per-session quality row after a response.
type QualityMetricsUpdate struct {
	SessionID          string    `json:"sessionId"`
	Technique          Technique `json:"technique"`
	Effectiveness      float64   `json:"effectiveness"`
	LastInterventionAt time.Time `json:"lastInterventionAt"`
}

// MemoryEntry is a conversation-memory row persisted for significant messages.
type MemoryEntry struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	UserID     string       `json:"userId"`
	Phase      SessionPhase `json:"phase"`
	Technique  Technique    `json:"technique"`
	Content    string       `json:"content"`
	Importance float64      `json:"importance"`
	CreatedAt  time.Time    `json:"createdAt"`
}
