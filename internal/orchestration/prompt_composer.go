package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solacehealth/therapy-ai-platform/internal/observability/metrics"
	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

var composerTracer = otel.Tracer("therapy/prompt-composer")

const (
	// Only the most recent turns ground the prompt; older context lives in
	// the conversation-memory store.
	promptHistoryWindow = 3

	defaultLLMTimeout = 30 * time.Second

	defaultTechniqueInstruction = "Use standard therapeutic listening: reflect what the person shares, validate their experience, and ask gentle open questions."
)

var techniqueInstructions = map[Technique]string{
	TechniqueRapportBuilding:        "Focus on building trust and comfort. Be warm and unhurried, invite the person to share at their own pace, and avoid probing questions this early.",
	TechniqueReflectiveQuestioning:  "Use open-ended reflective questions to help the person explore their thoughts and feelings. Mirror their language back before asking the next question.",
	TechniqueBreathingExercises:     "Guide the person through a slow breathing exercise step by step. Keep sentences short and grounding. Do not introduce new topics until their arousal settles.",
	TechniqueBehavioralActivation:   "Encourage one small, concrete, achievable action the person could take today. Link it to something they previously said they value. Celebrate small steps.",
	TechniqueCognitiveRestructuring: "Help the person notice the thought behind the feeling, examine the evidence for and against it, and phrase a more balanced alternative. Never dismiss the original thought.",
	TechniqueSkillPractice:          "Rehearse a coping skill interactively. Describe the skill briefly, walk through a concrete example together, and invite the person to try it in their own words.",
	TechniqueSessionSummary:         "Summarize the key themes of this session in the person's own words, name one insight and one next step, and close on an encouraging note.",
	TechniqueActiveListening:        "Listen actively and reflect back what you hear. Prioritize being understood over making progress.",
	TechniqueMindfulnessGrounding:   "Guide a brief grounding exercise using the senses. Keep the person anchored in the present moment with simple, concrete prompts.",
}

// PromptComposer builds the grounded system prompt and dispatches the
// completion to the provider picked by the model router. It does not catch
// provider errors; the controller owns fallback behavior.
type PromptComposer struct {
	clients     map[Provider]LLMClient
	timeout     time.Duration
	maxTokens   int32
	temperature float32
	metrics     *metrics.OrchestrationMetrics
	logger      *logging.Logger
}

// ComposerOption configures the prompt composer.
type ComposerOption func(*PromptComposer)

// WithLLMTimeout bounds each outbound provider call.
func WithLLMTimeout(d time.Duration) ComposerOption {
	return func(p *PromptComposer) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithGenerationParams overrides max tokens and temperature for completions.
func WithGenerationParams(maxTokens int32, temperature float32) ComposerOption {
	return func(p *PromptComposer) {
		if maxTokens > 0 {
			p.maxTokens = maxTokens
		}
		if temperature >= 0 {
			p.temperature = temperature
		}
	}
}

// WithComposerMetrics records provider latency on every completion.
func WithComposerMetrics(m *metrics.OrchestrationMetrics) ComposerOption {
	return func(p *PromptComposer) {
		p.metrics = m
	}
}

// NewPromptComposer wires the composer over one client per provider.
func NewPromptComposer(clients map[Provider]LLMClient, logger *logging.Logger, opts ...ComposerOption) *PromptComposer {
	if len(clients) == 0 {
		panic("orchestration: at least one LLM client is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &PromptComposer{
		clients:     clients,
		timeout:     defaultLLMTimeout,
		maxTokens:   1024,
		temperature: 0.7,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Respond builds the prompt and invokes the routed model. The context is the
// natural cancellation point for the whole request: a disconnected caller
// aborts the in-flight provider call.
func (p *PromptComposer) Respond(ctx context.Context, message string, sc SessionContext, persona TherapistPersona, choice ModelChoice, selection TechniqueSelection) (string, error) {
	ctx, span := composerTracer.Start(ctx, "prompt.respond")
	defer span.End()

	client, ok := p.clients[choice.Provider]
	if !ok {
		return "", fmt.Errorf("orchestration: no client configured for provider %q", choice.Provider)
	}

	req := LLMRequest{
		Model:       choice.Model,
		System:      []string{p.buildSystemPrompt(sc, persona, selection)},
		Messages:    p.buildMessages(message, sc.History),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(callCtx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.ObserveLLMLatency(string(choice.Provider), choice.Model, "error", elapsed)
		span.SetAttributes(attribute.Bool("llm.error", true))
		return "", fmt.Errorf("orchestration: completion failed: %w", err)
	}
	p.metrics.ObserveLLMLatency(string(choice.Provider), choice.Model, "success", elapsed)

	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("orchestration: provider %q returned an empty response", choice.Provider)
	}

	span.SetAttributes(
		attribute.String("llm.model", choice.Model),
		attribute.Int("llm.output_tokens", int(resp.Usage.OutputTokens)),
	)

	return resp.Text, nil
}

// buildMessages maps the most recent history turns plus the current message
// into chat roles.
func (p *PromptComposer) buildMessages(message string, history []Turn) []ChatMessage {
	recent := history
	if len(recent) > promptHistoryWindow {
		recent = recent[len(recent)-promptHistoryWindow:]
	}

	messages := make([]ChatMessage, 0, len(recent)+1)
	for _, turn := range recent {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := ChatRoleAssistant
		if strings.EqualFold(turn.Sender, "user") {
			role = ChatRoleUser
		}
		messages = append(messages, ChatMessage{Role: role, Content: content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})
	return messages
}

func (p *PromptComposer) buildSystemPrompt(sc SessionContext, persona TherapistPersona, selection TechniqueSelection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, %s, an AI therapy companion.\n", persona.Name, persona.Title)
	if persona.CommunicationStyle != "" {
		fmt.Fprintf(&b, "Communication style: %s.\n", persona.CommunicationStyle)
	}
	b.WriteString("You support the person's mental wellbeing. You never diagnose, never prescribe, and you encourage professional help for anything beyond your scope.\n")

	instruction, ok := techniqueInstructions[selection.Technique]
	if !ok {
		instruction = defaultTechniqueInstruction
	}
	fmt.Fprintf(&b, "\nCurrent session phase: %s.\n", sc.CurrentPhase)
	fmt.Fprintf(&b, "Therapeutic approach for this turn (%s, %s): %s\n", selection.Technique, selection.Approach, instruction)

	if cultural := p.culturalSection(sc.Cultural, selection.CulturalAdaptations); cultural != "" {
		b.WriteString("\n")
		b.WriteString(cultural)
	}

	if sc.CrisisLevel != "" && sc.CrisisLevel != CrisisNone {
		fmt.Fprintf(&b, "\nSAFETY PROTOCOL: the current crisis level is %s. Respond with heightened care. Acknowledge the person's pain directly, stay with them, and gently surface professional crisis resources. Never minimize what they share and never end the conversation abruptly.\n", sc.CrisisLevel)
	}

	b.WriteString("\nKeep responses warm, concrete, and conversational. Two to four sentences unless guiding an exercise.")

	return b.String()
}

func (p *PromptComposer) culturalSection(c CulturalContext, flags map[string]bool) string {
	if c.IsZero() && len(flags) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Cultural context to honor:\n")
	if c.PrimaryLanguage != "" {
		fmt.Fprintf(&b, "- The person's primary language is %s.\n", c.PrimaryLanguage)
	}
	if c.ReligiousConsiderations {
		b.WriteString("- Faith matters to this person; spiritual framings are welcome when they raise them.\n")
	}
	if c.FamilyOriented {
		b.WriteString("- Family plays a central role in this person's life and decisions.\n")
	}
	if len(flags) > 0 {
		active := make([]string, 0, len(flags))
		for name, on := range flags {
			if on {
				active = append(active, name)
			}
		}
		if len(active) > 0 {
			sort.Strings(active)
			fmt.Fprintf(&b, "- Active adaptations: %s.\n", strings.Join(active, ", "))
		}
	}
	return b.String()
}
