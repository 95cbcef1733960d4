package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solacehealth/therapy-ai-platform/internal/observability/metrics"
	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

var serviceTracer = otel.Tracer("therapy/orchestration")

// ErrInvalidRequest marks a request missing one of its required fields.
var ErrInvalidRequest = errors.New("orchestration: message, userId, and sessionId are required")

const (
	// Session state defaults used when the status store has nothing or fails.
	defaultEngagementLevel         = 0.5
	defaultBreakthroughProbability = 0.0

	// Messages shorter than this are not significant enough to remember.
	minSignificantMessageLen = 30
	memoryContentMaxLen      = 500
	memoryImportanceCrisis   = 0.9
	memoryImportanceDefault  = 0.6

	fallbackResponseText = "I'm experiencing some technical difficulties right now, but I'm still here with you. How are you feeling at this moment?"
)

var defaultPersona = TherapistPersona{
	Name:               "Maya",
	Title:              "AI Therapy Companion",
	CommunicationStyle: "warm, patient, and non-judgmental",
}

// Request is one inbound user message plus its session coordinates.
type Request struct {
	SessionID      string             `json:"sessionId"`
	UserID         string             `json:"userId"`
	TherapistID    string             `json:"therapistId,omitempty"`
	Message        string             `json:"message"`
	Phase          SessionPhase       `json:"phase,omitempty"`
	EmotionalState map[string]float64 `json:"emotionalState,omitempty"`
	Cultural       *CulturalContext   `json:"culturalContext,omitempty"`
}

// ResponseMetadata explains how the response was produced.
type ResponseMetadata struct {
	Technique               Technique       `json:"technique"`
	Approach                Approach        `json:"approach"`
	Model                   string          `json:"model"`
	Provider                Provider        `json:"provider"`
	RoutingRule             string          `json:"routingRule"`
	EngagementLevel         float64         `json:"engagementLevel"`
	BreakthroughProbability float64         `json:"breakthroughProbability"`
	Rationale               string          `json:"rationale"`
	EffectivenessPrediction float64         `json:"effectivenessPrediction"`
	CulturalAdaptations     map[string]bool `json:"culturalAdaptations,omitempty"`
	Phase                   SessionPhase    `json:"phase"`
}

// Response is the orchestrated reply for one message. Metadata is nil when
// the pipeline fell back to the canned response.
type Response struct {
	SessionID   string            `json:"sessionId"`
	Message     string            `json:"message"`
	CrisisLevel CrisisLevel       `json:"crisisLevel"`
	Crisis      *CrisisAssessment `json:"crisis,omitempty"`
	Metadata    *ResponseMetadata `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Service runs the full per-message pipeline: load state, assess crisis,
// select technique, route model, generate, persist. Construction wires every
// stage; the stores may be nil in reduced deployments and each degrades to a
// documented default rather than failing the message.
type Service struct {
	detector   *CrisisDetector
	selector   *TechniqueSelector
	router     *ModelRouter
	composer   *PromptComposer
	sessions   *SessionStore
	profiles   *ProfileStore
	dispatcher *TelemetryDispatcher
	metrics    *metrics.OrchestrationMetrics
	logger     *logging.Logger
}

// ServiceOption customizes the orchestration service.
type ServiceOption func(*Service)

// WithProfileStore wires persona and cultural profile lookups.
func WithProfileStore(store *ProfileStore) ServiceOption {
	return func(s *Service) {
		s.profiles = store
	}
}

// WithTelemetryDispatcher wires async telemetry persistence.
func WithTelemetryDispatcher(d *TelemetryDispatcher) ServiceOption {
	return func(s *Service) {
		s.dispatcher = d
	}
}

// WithServiceMetrics wires pipeline counters.
func WithServiceMetrics(m *metrics.OrchestrationMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the pipeline. The four stages and the session store are
// required; everything else is optional.
func NewService(detector *CrisisDetector, selector *TechniqueSelector, router *ModelRouter, composer *PromptComposer, sessions *SessionStore, logger *logging.Logger, opts ...ServiceOption) *Service {
	if detector == nil {
		panic("orchestration: crisis detector cannot be nil")
	}
	if selector == nil {
		panic("orchestration: technique selector cannot be nil")
	}
	if router == nil {
		panic("orchestration: model router cannot be nil")
	}
	if composer == nil {
		panic("orchestration: prompt composer cannot be nil")
	}
	if sessions == nil {
		panic("orchestration: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Service{
		detector: detector,
		selector: selector,
		router:   router,
		composer: composer,
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond processes one user message end to end. It returns an error only for
// invalid requests; provider failures degrade to the fallback response so the
// person is never left without a reply.
func (s *Service) Respond(ctx context.Context, req Request) (*Response, error) {
	ctx, span := serviceTracer.Start(ctx, "orchestration.respond")
	defer span.End()

	if strings.TrimSpace(req.Message) == "" ||
		strings.TrimSpace(req.UserID) == "" ||
		strings.TrimSpace(req.SessionID) == "" {
		s.metrics.ObserveRequest("invalid")
		return nil, ErrInvalidRequest
	}

	sc := s.assembleContext(ctx, req)

	span.SetAttributes(
		attribute.String("session.id", sc.SessionID),
		attribute.String("session.phase", string(sc.CurrentPhase)),
	)

	// Crisis assessment runs on every message, before any routing decision.
	assessment := s.detector.Assess(ctx, req.Message, sc.History)
	if assessment.Detected {
		s.metrics.ObserveCrisisDetection(string(assessment.UrgencyLevel))
		// Escalate only. A calmer message never lowers the session's crisis
		// level mid-request; de-escalation is a human decision.
		if assessment.UrgencyLevel.Rank() > sc.CrisisLevel.Rank() {
			sc.CrisisLevel = assessment.UrgencyLevel
		}
		s.recordCrisis(ctx, sc, assessment)
	}

	selection := s.selector.Select(ctx, sc)
	s.metrics.ObserveTechnique(string(selection.Technique))

	choice, rule := s.router.Route(ctx, sc)

	persona := s.loadPersona(ctx, req.TherapistID)

	text, err := s.composer.Respond(ctx, req.Message, sc, persona, choice, selection)
	if err != nil {
		s.logger.Error("response generation failed, serving fallback",
			"error", err,
			"session_id", sc.SessionID,
			"provider", choice.Provider,
			"model", choice.Model,
		)
		s.metrics.ObserveRequest("fallback")
		return &Response{
			SessionID:   sc.SessionID,
			Message:     fallbackResponseText,
			CrisisLevel: sc.CrisisLevel,
			Crisis:      crisisForResponse(assessment),
			Timestamp:   time.Now().UTC(),
		}, nil
	}

	s.persistSessionState(ctx, sc, req.Message, text)
	s.recordTelemetry(ctx, sc, req, selection, choice, assessment)

	s.metrics.ObserveRequest("success")
	return &Response{
		SessionID:   sc.SessionID,
		Message:     text,
		CrisisLevel: sc.CrisisLevel,
		Crisis:      crisisForResponse(assessment),
		Metadata: &ResponseMetadata{
			Technique:               selection.Technique,
			Approach:                selection.Approach,
			Model:                   choice.Model,
			Provider:                choice.Provider,
			RoutingRule:             rule,
			EngagementLevel:         sc.EngagementLevel,
			BreakthroughProbability: sc.BreakthroughProbability,
			Rationale:               selection.Rationale,
			EffectivenessPrediction: selection.EffectivenessPrediction,
			CulturalAdaptations:     selection.CulturalAdaptations,
			Phase:                   sc.CurrentPhase,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// assembleContext builds the per-request session context. The three reads
// fan out concurrently and each degrades independently: a failed or missing
// read falls back to neutral defaults instead of failing the message.
func (s *Service) assembleContext(ctx context.Context, req Request) SessionContext {
	sc := SessionContext{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		TherapistID: req.TherapistID,

		CurrentPhase:   req.Phase,
		EmotionalState: req.EmotionalState,

		CrisisLevel:             CrisisNone,
		EngagementLevel:         defaultEngagementLevel,
		BreakthroughProbability: defaultBreakthroughProbability,
	}
	if req.Cultural != nil {
		sc.Cultural = *req.Cultural
	}

	var (
		wg       sync.WaitGroup
		status   *SessionStatus
		history  []Turn
		cultural *CulturalContext
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		var err error
		status, err = s.sessions.LoadStatus(ctx, req.SessionID)
		if err != nil {
			s.logger.Warn("session status unavailable, using defaults", "error", err, "session_id", req.SessionID)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		history, err = s.sessions.LoadHistory(ctx, req.SessionID)
		if err != nil {
			s.logger.Warn("session history unavailable, continuing without it", "error", err, "session_id", req.SessionID)
		}
	}()
	go func() {
		defer wg.Done()
		if s.profiles == nil {
			return
		}
		var err error
		cultural, err = s.profiles.GetCulturalProfile(ctx, req.UserID)
		if err != nil {
			s.logger.Warn("cultural profile unavailable, continuing without it", "error", err, "user_id", req.UserID)
		}
	}()
	wg.Wait()

	if status != nil {
		sc.CrisisLevel = status.CrisisLevel
		sc.EngagementLevel = status.EngagementLevel
		sc.BreakthroughProbability = status.BreakthroughProbability
	}
	if sc.CrisisLevel == "" {
		sc.CrisisLevel = CrisisNone
	}
	sc.History = history
	// The stored profile wins; the request-supplied context only fills in
	// when no profile exists for the user.
	if cultural != nil {
		sc.Cultural = *cultural
	}
	return sc
}

func (s *Service) loadPersona(ctx context.Context, therapistID string) TherapistPersona {
	if s.profiles == nil || strings.TrimSpace(therapistID) == "" {
		return defaultPersona
	}
	persona, err := s.profiles.GetTherapistPersona(ctx, therapistID)
	if err != nil {
		s.logger.Warn("therapist persona unavailable, using default", "error", err, "therapist_id", therapistID)
		return defaultPersona
	}
	if persona == nil {
		return defaultPersona
	}
	return *persona
}

// persistSessionState writes the escalated status and the appended history
// back to Redis. Failures are logged; the response has already been produced.
func (s *Service) persistSessionState(ctx context.Context, sc SessionContext, userMessage, reply string) {
	status := SessionStatus{
		CrisisLevel:             sc.CrisisLevel,
		EngagementLevel:         sc.EngagementLevel,
		BreakthroughProbability: sc.BreakthroughProbability,
	}
	if err := s.sessions.SaveStatus(ctx, sc.SessionID, status); err != nil {
		s.logger.Warn("failed to persist session status", "error", err, "session_id", sc.SessionID)
	}

	history := append(sc.History,
		Turn{Sender: "user", Content: userMessage},
		Turn{Sender: "assistant", Content: reply},
	)
	if err := s.sessions.SaveHistory(ctx, sc.SessionID, history); err != nil {
		s.logger.Warn("failed to persist session history", "error", err, "session_id", sc.SessionID)
	}
}

func (s *Service) recordCrisis(ctx context.Context, sc SessionContext, assessment CrisisAssessment) {
	if s.dispatcher == nil {
		return
	}
	checks := make(map[string]bool, len(assessment.Indicators))
	for _, indicator := range assessment.Indicators {
		checks[indicator] = true
	}
	s.dispatcher.EnqueueCrisis(ctx, &CrisisMonitorRecord{
		SessionID:          sc.SessionID,
		UserID:             sc.UserID,
		CrisisLevel:        assessment.UrgencyLevel,
		RiskScore:          assessment.RiskScore,
		Indicators:         assessment.Indicators,
		Checks:             checks,
		RecommendedActions: assessment.RecommendedActions,
	})
}

// recordTelemetry enqueues the decision record, quality update, and (for
// significant messages) a memory entry. All best-effort.
func (s *Service) recordTelemetry(ctx context.Context, sc SessionContext, req Request, selection TechniqueSelection, choice ModelChoice, assessment CrisisAssessment) {
	if s.dispatcher == nil {
		return
	}

	now := time.Now().UTC()
	s.dispatcher.EnqueueDecision(ctx, &DecisionRecord{
		ID:                     uuid.NewString(),
		SessionID:              sc.SessionID,
		UserID:                 sc.UserID,
		Phase:                  sc.CurrentPhase,
		Model:                  choice.Model,
		Provider:               choice.Provider,
		Technique:              selection.Technique,
		Approach:               selection.Approach,
		Rationale:              selection.Rationale,
		PredictedEffectiveness: selection.EffectivenessPrediction,
		CulturalAdaptations:    selection.CulturalAdaptations,
		CrisisLevel:            sc.CrisisLevel,
		CreatedAt:              now,
	})

	s.dispatcher.EnqueueQuality(ctx, &QualityMetricsUpdate{
		SessionID:          sc.SessionID,
		Technique:          selection.Technique,
		Effectiveness:      selection.EffectivenessPrediction,
		LastInterventionAt: now,
	})

	if len(req.Message) > minSignificantMessageLen {
		content := truncateOnRuneBoundary(req.Message, memoryContentMaxLen)
		importance := memoryImportanceDefault
		if assessment.Detected {
			importance = memoryImportanceCrisis
		}
		s.dispatcher.EnqueueMemory(ctx, &MemoryEntry{
			ID:         uuid.NewString(),
			SessionID:  sc.SessionID,
			UserID:     sc.UserID,
			Phase:      sc.CurrentPhase,
			Technique:  selection.Technique,
			Content:    content,
			Importance: importance,
			CreatedAt:  now,
		})
	}
}

// truncateOnRuneBoundary caps s at max bytes without splitting a rune, so
// the stored content stays valid UTF-8.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func crisisForResponse(assessment CrisisAssessment) *CrisisAssessment {
	if !assessment.Detected {
		return nil
	}
	out := assessment
	return &out
}
