package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLMClient struct {
	resp LLMResponse
	err  error
	last LLMRequest
}

func (c *stubLLMClient) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	c.last = req
	return c.resp, c.err
}

func testPersona() TherapistPersona {
	return TherapistPersona{
		Name:               "Maya",
		Title:              "AI Therapy Companion",
		CommunicationStyle: "warm and direct",
	}
}

func TestPromptComposerRespond(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "That sounds really hard."}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	sc := SessionContext{
		CurrentPhase: PhaseAssessment,
		History: []Turn{
			{Sender: "user", Content: "hi"},
			{Sender: "assistant", Content: "hello"},
			{Sender: "user", Content: "work is rough"},
			{Sender: "assistant", Content: "tell me more"},
		},
	}
	choice := ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}
	selection := TechniqueSelection{Technique: TechniqueReflectiveQuestioning, Approach: ApproachExploratory}

	text, err := p.Respond(context.Background(), "my boss yelled at me", sc, testPersona(), choice, selection)
	require.NoError(t, err)
	assert.Equal(t, "That sounds really hard.", text)

	// Only the last three history turns plus the current message go out.
	require.Len(t, stub.last.Messages, 4)
	assert.Equal(t, "hello", stub.last.Messages[0].Content)
	assert.Equal(t, ChatRoleAssistant, stub.last.Messages[0].Role)
	assert.Equal(t, "my boss yelled at me", stub.last.Messages[3].Content)
	assert.Equal(t, ChatRoleUser, stub.last.Messages[3].Role)
	assert.Equal(t, "gemini-2.5-flash", stub.last.Model)

	require.Len(t, stub.last.System, 1)
	system := stub.last.System[0]
	assert.Contains(t, system, "Maya")
	assert.Contains(t, system, string(PhaseAssessment))
	assert.Contains(t, system, techniqueInstructions[TechniqueReflectiveQuestioning])
	assert.NotContains(t, system, "SAFETY PROTOCOL")
}

func TestPromptComposerSafetyProtocol(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "I'm right here with you."}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderBedrock: stub}, nil)

	sc := SessionContext{CurrentPhase: PhaseIntervention, CrisisLevel: CrisisHigh}
	choice := ModelChoice{Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: ProviderBedrock}

	_, err := p.Respond(context.Background(), "it all feels pointless", sc, testPersona(), choice, TechniqueSelection{})
	require.NoError(t, err)

	system := stub.last.System[0]
	assert.Contains(t, system, "SAFETY PROTOCOL")
	assert.Contains(t, system, string(CrisisHigh))
}

func TestPromptComposerCulturalSection(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "ok"}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	sc := SessionContext{
		CurrentPhase: PhaseOpening,
		Cultural:     CulturalContext{PrimaryLanguage: "es", FamilyOriented: true},
	}
	selection := TechniqueSelection{
		Technique: TechniqueRapportBuilding,
		Approach:  ApproachWelcoming,
		CulturalAdaptations: map[string]bool{
			AdaptTranslationNeeded:  true,
			AdaptFamilySystemFocus:  true,
			AdaptCollectiveApproach: false,
		},
	}

	_, err := p.Respond(context.Background(), "hola", sc, testPersona(),
		ModelChoice{Model: "gemini-2.5-pro", Provider: ProviderGemini}, selection)
	require.NoError(t, err)

	system := stub.last.System[0]
	assert.Contains(t, system, "primary language is es")
	assert.Contains(t, system, "Family plays a central role")
	// Flags render sorted and only when set.
	assert.Contains(t, system, "family_system_focus, translation_needed")
	assert.NotContains(t, system, AdaptCollectiveApproach)
}

func TestPromptComposerUnknownTechniqueUsesDefaultInstruction(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "ok"}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	selection := TechniqueSelection{Technique: Technique("somatic_tracking")}
	_, err := p.Respond(context.Background(), "hey", SessionContext{}, testPersona(),
		ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}, selection)
	require.NoError(t, err)

	assert.Contains(t, stub.last.System[0], defaultTechniqueInstruction)
}

func TestPromptComposerMissingProviderClient(t *testing.T) {
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: &stubLLMClient{}}, nil)

	_, err := p.Respond(context.Background(), "hi", SessionContext{}, testPersona(),
		ModelChoice{Model: "m", Provider: ProviderBedrock}, TechniqueSelection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client configured")
}

func TestPromptComposerPropagatesProviderError(t *testing.T) {
	stub := &stubLLMClient{err: errors.New("throttled")}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	_, err := p.Respond(context.Background(), "hi", SessionContext{}, testPersona(),
		ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}, TechniqueSelection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestPromptComposerRejectsEmptyCompletion(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "   "}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	_, err := p.Respond(context.Background(), "hi", SessionContext{}, testPersona(),
		ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}, TechniqueSelection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestPromptComposerSkipsBlankHistoryTurns(t *testing.T) {
	stub := &stubLLMClient{resp: LLMResponse{Text: "ok"}}
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: stub}, nil)

	sc := SessionContext{History: []Turn{
		{Sender: "user", Content: "  "},
		{Sender: "assistant", Content: "hello"},
	}}
	_, err := p.Respond(context.Background(), "hi", sc, testPersona(),
		ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}, TechniqueSelection{})
	require.NoError(t, err)

	require.Len(t, stub.last.Messages, 2)
	assert.Equal(t, "hello", stub.last.Messages[0].Content)
}

type slowLLMClient struct{}

func (slowLLMClient) Complete(ctx context.Context, _ LLMRequest) (LLMResponse, error) {
	select {
	case <-ctx.Done():
		return LLMResponse{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return LLMResponse{Text: "too late"}, nil
	}
}

func TestPromptComposerTimeoutBoundsProviderCall(t *testing.T) {
	p := NewPromptComposer(map[Provider]LLMClient{ProviderGemini: slowLLMClient{}}, nil,
		WithLLMTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := p.Respond(context.Background(), "hi", SessionContext{}, testPersona(),
		ModelChoice{Model: "gemini-2.5-flash", Provider: ProviderGemini}, TechniqueSelection{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewPromptComposerRequiresClients(t *testing.T) {
	assert.Panics(t, func() {
		NewPromptComposer(nil, nil)
	})
}
