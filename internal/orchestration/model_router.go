package orchestration

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

var routerTracer = otel.Tracer("therapy/model-router")

const (
	engagementRouteThreshold   = 0.8
	breakthroughRouteThreshold = 0.6
)

// RouterModels names the three models the router can pick between.
type RouterModels struct {
	// Crisis is the highest-capability, crisis-capable model (Bedrock).
	Crisis ModelChoice
	// Cultural is the culturally tuned / advanced conversational model.
	Cultural ModelChoice
	// Default is the cost-efficient model used when no other rule fires.
	Default ModelChoice
}

// routeRule is one (predicate, outcome) pair in the priority chain.
type routeRule struct {
	name   string
	when   func(SessionContext) bool
	choice func(RouterModels) ModelChoice
}

// routeRules is evaluated in order, first match wins. The crisis rule MUST
// stay first: crisis safety always dominates cost optimization, so no
// cost-efficiency rule may ever precede or override a crisis escalation.
var routeRules = []routeRule{
	{
		name:   "crisis",
		when:   func(sc SessionContext) bool { return sc.CrisisLevel != "" && sc.CrisisLevel != CrisisNone },
		choice: func(m RouterModels) ModelChoice { return m.Crisis },
	},
	{
		name:   "cultural_context",
		when:   func(sc SessionContext) bool { return !sc.Cultural.IsZero() },
		choice: func(m RouterModels) ModelChoice { return m.Cultural },
	},
	{
		name:   "high_engagement",
		when:   func(sc SessionContext) bool { return sc.EngagementLevel > engagementRouteThreshold },
		choice: func(m RouterModels) ModelChoice { return m.Cultural },
	},
	{
		name:   "breakthrough_likely",
		when:   func(sc SessionContext) bool { return sc.BreakthroughProbability > breakthroughRouteThreshold },
		choice: func(m RouterModels) ModelChoice { return m.Crisis },
	},
}

// ModelRouter picks which LLM provider/model handles a turn.
type ModelRouter struct {
	models RouterModels
	logger *logging.Logger
}

// NewModelRouter creates a router over the configured model set.
func NewModelRouter(models RouterModels, logger *logging.Logger) *ModelRouter {
	if logger == nil {
		logger = logging.Default()
	}
	return &ModelRouter{models: models, logger: logger}
}

// Route evaluates the priority chain against the (possibly escalated)
// session context and returns the chosen model plus the name of the rule
// that fired ("default" when none did).
func (r *ModelRouter) Route(ctx context.Context, sc SessionContext) (ModelChoice, string) {
	_, span := routerTracer.Start(ctx, "model.route")
	defer span.End()

	choice := r.models.Default
	rule := "default"
	for _, rr := range routeRules {
		if rr.when(sc) {
			choice = rr.choice(r.models)
			rule = rr.name
			break
		}
	}

	span.SetAttributes(
		attribute.String("model.selected", choice.Model),
		attribute.String("model.provider", string(choice.Provider)),
		attribute.String("model.rule", rule),
	)
	r.logger.Debug("model routed", "model", choice.Model, "provider", choice.Provider, "rule", rule)

	return choice, rule
}
