// Package persona resolves the buyer persona a call is played against.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/domain"
)

// SimulationLinkedIn marks profile data scraped from a LinkedIn page.
const SimulationLinkedIn = "linkedin"

const defaultDisplayName = "your prospect"

// Store is the persona persistence the provider needs.
type Store interface {
	CreatePersona(ctx context.Context, persona *domain.Persona) error
	GetPersona(ctx context.Context, personaID string) (*domain.Persona, error)
	ListPersonas(ctx context.Context) ([]domain.Persona, error)
}

// Resolved is everything a session needs from a persona.
type Resolved struct {
	SystemPrompt string
	PersonaID    string
	Profile      json.RawMessage
	DisplayName  string
}

// Opening is the prospect's first line.
func (r Resolved) Opening() string {
	name := r.DisplayName
	if name == "" {
		name = defaultDisplayName
	}
	return "Hello, this is " + name + ". How can I help you today?"
}

// Provider turns start requests into system prompts.
type Provider struct {
	store  Store
	client llm.Client
	model  string
	logger *zap.Logger
	now    func() time.Time
}

// NewProvider creates a provider. model is used for prompt synthesis.
func NewProvider(store Store, client llm.Client, model string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:  store,
		client: client,
		model:  model,
		logger: logger.With(zap.String("component", "persona")),
		now:    time.Now,
	}
}

// Resolve picks the system prompt for a new session. An explicit prompt
// wins, then a stored persona, then LinkedIn profile data.
func (p *Provider) Resolve(ctx context.Context, req domain.StartSessionRequest) (Resolved, error) {
	res := Resolved{
		PersonaID:   req.PersonaID,
		Profile:     req.ProfileData,
		DisplayName: profileName(req.ProfileData),
	}

	switch {
	case strings.TrimSpace(req.SystemPrompt) != "":
		res.SystemPrompt = req.SystemPrompt

	case req.PersonaID != "":
		persona, err := p.store.GetPersona(ctx, req.PersonaID)
		if err != nil {
			return Resolved{}, fmt.Errorf("get persona: %w", err)
		}
		if persona == nil {
			return Resolved{}, domain.ErrPersonaNotFound
		}
		res.SystemPrompt = persona.SystemPrompt
		if res.SystemPrompt == "" {
			res.SystemPrompt = "You are simulating a buyer persona based on the following information: " + string(persona.Metadata)
		}

	case len(req.ProfileData) > 0 && req.SimulationType == SimulationLinkedIn:
		prompt, err := p.synthesize(ctx, profilePrompt(req.ProfileData))
		if err != nil {
			return Resolved{}, err
		}
		res.SystemPrompt = prompt

	default:
		return Resolved{}, domain.NewValidationError("", "missing persona information")
	}

	return res, nil
}

// Create stores a new persona, synthesizing its prompt when none is given.
func (p *Provider) Create(ctx context.Context, req domain.CreatePersonaRequest) (*domain.Persona, error) {
	hasPrompt := strings.TrimSpace(req.SystemPrompt) != ""
	if !hasPrompt && ((req.LinkedInURL == "" && req.JobTitle == "") || req.CompanyName == "") {
		return nil, domain.NewValidationError("", "missing required fields")
	}
	if hasPrompt && req.Name == "" && req.JobTitle == "" {
		return nil, domain.NewValidationError("name", "name is required")
	}

	metadata, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal persona metadata: %w", err)
	}

	prompt := req.SystemPrompt
	if !hasPrompt {
		prompt, err = p.synthesize(ctx, descriptorPrompt(req))
		if err != nil {
			return nil, err
		}
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSpace(req.JobTitle + " at " + req.CompanyName)
	}

	persona := &domain.Persona{
		PersonaID:    "persona_" + uuid.New().String()[:8],
		Name:         name,
		SystemPrompt: prompt,
		Metadata:     metadata,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.store.CreatePersona(ctx, persona); err != nil {
		return nil, fmt.Errorf("create persona: %w", err)
	}
	p.logger.Info("persona created", zap.String("persona_id", persona.PersonaID))
	return persona, nil
}

// Get returns a stored persona.
func (p *Provider) Get(ctx context.Context, personaID string) (*domain.Persona, error) {
	persona, err := p.store.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if persona == nil {
		return nil, domain.ErrPersonaNotFound
	}
	return persona, nil
}

// List returns stored personas.
func (p *Provider) List(ctx context.Context) ([]domain.Persona, error) {
	return p.store.ListPersonas(ctx)
}

const synthesisInstruction = "You are an expert at creating realistic buyer personas for sales simulations. " +
	"Your task is to create a detailed system prompt that will be used to simulate a buyer persona in a sales call scenario."

func (p *Provider) synthesize(ctx context.Context, userPrompt string) (string, error) {
	temperature := 0.7
	maxTokens := 1500
	resp, err := p.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: p.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: synthesisInstruction},
			{Role: "user", Content: userPrompt},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", domain.NewUpstreamError(domain.PhaseCompletion, fmt.Errorf("generate persona prompt: %w", err))
	}
	prompt := strings.TrimSpace(resp.Content())
	if prompt == "" {
		return "", domain.NewUpstreamError(domain.PhaseCompletion, fmt.Errorf("generate persona prompt: empty reply"))
	}
	return prompt, nil
}

const promptRequirements = `The system prompt should:
1. Instruct the AI to behave realistically as this specific buyer persona
2. Include personality traits, communication style, and decision-making factors
3. Incorporate knowledge about their company, industry challenges, and pain points
4. Define how they would typically respond to sales pitches
5. Include specific objections or concerns they might raise
6. Specify their budget sensitivity and decision-making authority

Format the prompt as a direct instruction to the AI, starting with "You are simulating a buyer persona..."`

func profilePrompt(profile json.RawMessage) string {
	pretty := string(profile)
	var v interface{}
	if err := json.Unmarshal(profile, &v); err == nil {
		if b, err := json.MarshalIndent(v, "", "  "); err == nil {
			pretty = string(b)
		}
	}
	return "Create a detailed system prompt for a sales call simulation where the AI will act as a buyer persona based on this LinkedIn profile data:\n\n" +
		pretty + "\n\n" + promptRequirements
}

func descriptorPrompt(req domain.CreatePersonaRequest) string {
	industry := req.Industry
	if industry == "" {
		industry = "Not specified"
	}
	var b strings.Builder
	b.WriteString("Create a detailed system prompt for a sales call simulation where the AI will act as a buyer persona with the following characteristics:\n\n")
	fmt.Fprintf(&b, "Role: %s\n", strings.TrimSpace(req.SeniorityLevel+" "+req.JobTitle+" at "+req.CompanyName))
	fmt.Fprintf(&b, "Industry: %s\n", industry)
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(req.Keywords, ", "))
	}
	if req.LinkedInURL != "" {
		fmt.Fprintf(&b, "LinkedIn: %s\n", req.LinkedInURL)
	}
	b.WriteString("\n")
	b.WriteString(promptRequirements)
	return b.String()
}

func profileName(profile json.RawMessage) string {
	if len(profile) == 0 {
		return ""
	}
	var p struct {
		FullName string `json:"fullName"`
	}
	if err := json.Unmarshal(profile, &p); err != nil {
		return ""
	}
	return strings.TrimSpace(p.FullName)
}
