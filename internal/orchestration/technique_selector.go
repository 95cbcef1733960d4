package orchestration

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

var selectorTracer = otel.Tracer("therapy/technique-selector")

// Cultural adaptation flag names. All flags are additive: one context can
// trigger several groups at once.
const (
	AdaptLanguageConsiderations = "language_considerations"
	AdaptTranslationNeeded      = "translation_needed"
	AdaptReligiousIntegration   = "religious_integration"
	AdaptSpiritualTechniques    = "spiritual_techniques"
	AdaptFamilySystemFocus      = "family_system_focus"
	AdaptCollectiveApproach     = "collective_approach"
)

const (
	// Fixed prediction pending a feed from historical per-technique telemetry.
	defaultEffectivenessPrediction = 0.75

	emotionalStateThreshold = 0.7
)

// phaseRule maps one session phase to its technique outcome. The intervention
// phase branches on the emotional state estimate; everything else is a direct
// lookup. Rules are evaluated in order and the first phase match wins, making
// the decision table a visible artifact instead of buried control flow.
type phaseRule struct {
	phase SessionPhase
	pick  func(emotional map[string]float64) (Technique, Approach, string)
}

var phaseRules = []phaseRule{
	{
		phase: PhaseOpening,
		pick: func(map[string]float64) (Technique, Approach, string) {
			return TechniqueRapportBuilding, ApproachWelcoming,
				"opening phase calls for building rapport before any intervention"
		},
	},
	{
		phase: PhaseAssessment,
		pick: func(map[string]float64) (Technique, Approach, string) {
			return TechniqueReflectiveQuestioning, ApproachExploratory,
				"assessment phase uses reflective questioning to surface concerns"
		},
	},
	{
		phase: PhaseIntervention,
		pick: func(emotional map[string]float64) (Technique, Approach, string) {
			switch {
			case emotional["anxiety"] > emotionalStateThreshold:
				return TechniqueBreathingExercises, ApproachCalming,
					"elevated anxiety calls for immediate physiological regulation"
			case emotional["depression"] > emotionalStateThreshold:
				return TechniqueBehavioralActivation, ApproachEncouraging,
					"elevated depression responds best to behavioral activation"
			default:
				return TechniqueCognitiveRestructuring, ApproachAnalytical,
					"intervention phase defaults to examining thought patterns"
			}
		},
	},
	{
		phase: PhasePractice,
		pick: func(map[string]float64) (Technique, Approach, string) {
			return TechniqueSkillPractice, ApproachInteractive,
				"practice phase rehearses skills introduced earlier in the session"
		},
	},
	{
		phase: PhaseClosing,
		pick: func(map[string]float64) (Technique, Approach, string) {
			return TechniqueSessionSummary, ApproachConsolidating,
				"closing phase consolidates the session into a summary"
		},
	},
}

// TechniqueSelector picks a therapeutic technique and interaction style from
// the session phase, emotional-state estimate, and cultural context. Pure
// function of its inputs; never fails — an unknown phase degrades to active
// listening rather than erroring.
type TechniqueSelector struct {
	defaultLanguage string
	logger          *logging.Logger
}

// NewTechniqueSelector creates a selector. defaultLanguage is the platform
// language; a session whose primary language differs triggers the language
// adaptation flags.
func NewTechniqueSelector(defaultLanguage string, logger *logging.Logger) *TechniqueSelector {
	if strings.TrimSpace(defaultLanguage) == "" {
		defaultLanguage = "en"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TechniqueSelector{
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// Select resolves the technique decision table against the session context.
func (s *TechniqueSelector) Select(ctx context.Context, sc SessionContext) TechniqueSelection {
	_, span := selectorTracer.Start(ctx, "technique.select")
	defer span.End()

	technique := TechniqueActiveListening
	approach := ApproachSupportive
	rationale := "unrecognized phase degrades to supportive active listening"

	for _, rule := range phaseRules {
		if rule.phase == sc.CurrentPhase {
			technique, approach, rationale = rule.pick(sc.EmotionalState)
			break
		}
	}

	selection := TechniqueSelection{
		Technique:               technique,
		Approach:                approach,
		CulturalAdaptations:     s.culturalAdaptations(sc.Cultural),
		Rationale:               rationale,
		EffectivenessPrediction: defaultEffectivenessPrediction,
	}

	span.SetAttributes(
		attribute.String("technique.selected", string(selection.Technique)),
		attribute.String("technique.approach", string(selection.Approach)),
	)

	return selection
}

// culturalAdaptations computes the additive flag set independently of the
// phase branch.
func (s *TechniqueSelector) culturalAdaptations(c CulturalContext) map[string]bool {
	flags := make(map[string]bool)
	if c.PrimaryLanguage != "" && !strings.EqualFold(c.PrimaryLanguage, s.defaultLanguage) {
		flags[AdaptLanguageConsiderations] = true
		flags[AdaptTranslationNeeded] = true
	}
	if c.ReligiousConsiderations {
		flags[AdaptReligiousIntegration] = true
		flags[AdaptSpiritualTechniques] = true
	}
	if c.FamilyOriented {
		flags[AdaptFamilySystemFocus] = true
		flags[AdaptCollectiveApproach] = true
	}
	return flags
}
