package orchestration

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

var crisisTracer = otel.Tracer("therapy/crisis-detector")

// Indicator tags attached to a CrisisAssessment.
const (
	IndicatorDirectCrisisLanguage   = "direct_crisis_language"
	IndicatorHighEmotionalIntensity = "high_emotional_intensity"
	IndicatorNegativePattern        = "negative_pattern_detected"
)

const (
	weightDirectCrisis       = 0.8
	weightEmotionalIntensity = 0.3
	weightNegativePattern    = 0.4

	// Any single direct phrase scores the message; intensity needs at least
	// two distinct words; the history pattern needs three of the last five
	// turns to contain an absolutist token.
	minIntensityMatches = 2
	historyWindow       = 5
	minPatternTurns     = 3
	urgencyImmediateAt  = 0.8
	urgencyHighAt       = 0.6
	urgencyMediumAt     = 0.4
	urgencyLowAt        = 0.2
)

var crisisPhrases = []string{
	"suicide",
	"kill myself",
	"end my life",
	"end it all",
	"hurt myself",
	"self harm",
	"no point living",
	"better off dead",
	"cant take it anymore",
	"want to die",
	"worthless",
	"hopeless",
	"trapped",
	"burden",
}

var intensityWords = []string{
	"overwhelmed",
	"desperate",
	"alone",
	"scared",
	"panic",
}

var absolutistTokens = []string{
	"cant",
	"never",
}

var recommendedActions = map[CrisisLevel][]string{
	CrisisImmediate: {
		"escalate_to_crisis_team",
		"provide_crisis_hotline",
		"initiate_safety_protocol",
		"notify_emergency_contact",
	},
	CrisisHigh: {
		"escalate_to_human_therapist",
		"provide_crisis_resources",
		"increase_check_in_frequency",
	},
	CrisisMedium: {
		"schedule_followup_within_24h",
		"share_coping_resources",
		"flag_for_therapist_review",
	},
	CrisisLow: {
		"monitor_next_messages",
		"offer_grounding_exercise",
		"log_for_review",
	},
}

// CrisisDetector scores a message plus recent history for self-harm risk.
// Assessment is pure and deterministic: additive evidence only, no I/O.
type CrisisDetector struct {
	logger *logging.Logger
}

// NewCrisisDetector creates a crisis detector.
func NewCrisisDetector(logger *logging.Logger) *CrisisDetector {
	if logger == nil {
		logger = logging.Default()
	}
	return &CrisisDetector{logger: logger}
}

// Assess scores one message against the crisis phrase list, the emotional
// intensity list, and the recent history pattern. The raw additive score
// decides Detected; the reported RiskScore is clamped to [0,1] so it stays a
// meaningful probability even when several indicators stack.
func (d *CrisisDetector) Assess(ctx context.Context, message string, history []Turn) CrisisAssessment {
	_, span := crisisTracer.Start(ctx, "crisis.assess")
	defer span.End()

	normalized := normalizeForMatching(message)

	var raw float64
	var indicators []string

	for _, phrase := range crisisPhrases {
		if strings.Contains(normalized, phrase) {
			indicators = append(indicators, IndicatorDirectCrisisLanguage)
			raw += weightDirectCrisis
			break
		}
	}

	intensity := 0
	for _, word := range intensityWords {
		if strings.Contains(normalized, word) {
			intensity++
		}
	}
	if intensity >= minIntensityMatches {
		indicators = append(indicators, IndicatorHighEmotionalIntensity)
		raw += weightEmotionalIntensity
	}

	if hasNegativePattern(history) {
		indicators = append(indicators, IndicatorNegativePattern)
		raw += weightNegativePattern
	}

	score := clamp01(raw)
	urgency := urgencyForScore(score)

	assessment := CrisisAssessment{
		Detected:           raw > 0,
		UrgencyLevel:       urgency,
		RiskScore:          score,
		Indicators:         indicators,
		RecommendedActions: actionsFor(urgency),
	}

	span.SetAttributes(
		attribute.Bool("crisis.detected", assessment.Detected),
		attribute.Float64("crisis.risk_score", assessment.RiskScore),
		attribute.String("crisis.urgency", string(assessment.UrgencyLevel)),
	)

	if assessment.Detected {
		d.logger.Warn("crisis risk detected",
			"urgency", assessment.UrgencyLevel,
			"risk_score", assessment.RiskScore,
			"indicators", assessment.Indicators,
		)
	}

	return assessment
}

// hasNegativePattern inspects the last turns of history for absolutist
// language ("cant", "never"); three or more matching turns trip the pattern.
func hasNegativePattern(history []Turn) bool {
	if len(history) == 0 {
		return false
	}
	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	matched := 0
	for _, turn := range recent {
		content := normalizeForMatching(turn.Content)
		for _, token := range absolutistTokens {
			if strings.Contains(content, token) {
				matched++
				break
			}
		}
	}
	return matched >= minPatternTurns
}

// normalizeForMatching lowercases and strips apostrophes so "can't" and
// "cant" match the same token.
func normalizeForMatching(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	return s
}

func urgencyForScore(score float64) CrisisLevel {
	switch {
	case score >= urgencyImmediateAt:
		return CrisisImmediate
	case score >= urgencyHighAt:
		return CrisisHigh
	case score >= urgencyMediumAt:
		return CrisisMedium
	case score >= urgencyLowAt:
		return CrisisLow
	default:
		return CrisisNone
	}
}

func actionsFor(urgency CrisisLevel) []string {
	actions := recommendedActions[urgency]
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
