package persona

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/repository"
)

type promptClient struct {
	reply string
	err   error
	reqs  []*llm.ChatCompletionRequest
}

func (c *promptClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatCompletionResponse{Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: c.reply}}}}, nil
}

func (c *promptClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest) (llm.ChatStream, error) {
	return nil, errors.New("not used")
}

func newTestProvider(t *testing.T, client llm.Client) (*Provider, *repository.SQLiteStore) {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewProvider(store, client, "gpt-4o", nil), store
}

func TestResolveExplicitPrompt(t *testing.T) {
	p, _ := newTestProvider(t, &promptClient{})
	res, err := p.Resolve(context.Background(), domain.StartSessionRequest{SystemPrompt: "You are a CFO", PersonaID: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "You are a CFO", res.SystemPrompt)
	assert.Equal(t, "Hello, this is your prospect. How can I help you today?", res.Opening())
}

func TestResolveStoredPersona(t *testing.T) {
	p, store := newTestProvider(t, &promptClient{})
	ctx := context.Background()
	require.NoError(t, store.CreatePersona(ctx, &domain.Persona{PersonaID: "p1", Name: "Dana", SystemPrompt: "You are Dana"}))
	require.NoError(t, store.CreatePersona(ctx, &domain.Persona{PersonaID: "p2", Name: "Lee", Metadata: json.RawMessage(`{"jobTitle":"CTO"}`)}))

	res, err := p.Resolve(ctx, domain.StartSessionRequest{PersonaID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "You are Dana", res.SystemPrompt)
	assert.Equal(t, "p1", res.PersonaID)

	res, err = p.Resolve(ctx, domain.StartSessionRequest{PersonaID: "p2"})
	require.NoError(t, err)
	assert.Contains(t, res.SystemPrompt, `{"jobTitle":"CTO"}`)

	_, err = p.Resolve(ctx, domain.StartSessionRequest{PersonaID: "missing"})
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)
}

func TestResolveLinkedInProfile(t *testing.T) {
	client := &promptClient{reply: "You are simulating a buyer persona named Dana."}
	p, _ := newTestProvider(t, client)

	res, err := p.Resolve(context.Background(), domain.StartSessionRequest{
		ProfileData:    json.RawMessage(`{"fullName":"Dana Price","headline":"CFO"}`),
		SimulationType: SimulationLinkedIn,
	})
	require.NoError(t, err)
	assert.Equal(t, "You are simulating a buyer persona named Dana.", res.SystemPrompt)
	assert.Equal(t, "Hello, this is Dana Price. How can I help you today?", res.Opening())

	require.Len(t, client.reqs, 1)
	assert.Equal(t, "gpt-4o", client.reqs[0].Model)
	assert.Contains(t, client.reqs[0].Messages[1].Content, `"fullName": "Dana Price"`)
}

func TestResolveSynthesisFailure(t *testing.T) {
	p, _ := newTestProvider(t, &promptClient{err: errors.New("LLM API error [500]")})
	_, err := p.Resolve(context.Background(), domain.StartSessionRequest{
		ProfileData:    json.RawMessage(`{"fullName":"Dana"}`),
		SimulationType: SimulationLinkedIn,
	})
	var upstream *domain.UpstreamServiceError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, domain.PhaseCompletion, upstream.Phase)
}

func TestResolveMissingInformation(t *testing.T) {
	p, _ := newTestProvider(t, &promptClient{})
	var verr *domain.ValidationError

	_, err := p.Resolve(context.Background(), domain.StartSessionRequest{})
	assert.ErrorAs(t, err, &verr)

	_, err = p.Resolve(context.Background(), domain.StartSessionRequest{ProfileData: json.RawMessage(`{"fullName":"x"}`)})
	assert.ErrorAs(t, err, &verr)
}

func TestCreatePersona(t *testing.T) {
	client := &promptClient{reply: "You are simulating a buyer persona who runs finance."}
	p, _ := newTestProvider(t, client)
	ctx := context.Background()

	created, err := p.Create(ctx, domain.CreatePersonaRequest{
		JobTitle:       "CFO",
		CompanyName:    "Freightly",
		SeniorityLevel: "VP",
		Keywords:       []string{"cost", "forecasting"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CFO at Freightly", created.Name)
	assert.Equal(t, "You are simulating a buyer persona who runs finance.", created.SystemPrompt)
	assert.Contains(t, client.reqs[0].Messages[1].Content, "Role: VP CFO at Freightly")
	assert.Contains(t, client.reqs[0].Messages[1].Content, "Keywords: cost, forecasting")

	got, err := p.Get(ctx, created.PersonaID)
	require.NoError(t, err)
	assert.Equal(t, created.SystemPrompt, got.SystemPrompt)

	list, err := p.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = p.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)
}

func TestCreatePersonaValidation(t *testing.T) {
	p, _ := newTestProvider(t, &promptClient{})
	var verr *domain.ValidationError

	_, err := p.Create(context.Background(), domain.CreatePersonaRequest{JobTitle: "CFO"})
	assert.ErrorAs(t, err, &verr)

	created, err := p.Create(context.Background(), domain.CreatePersonaRequest{Name: "Dana", SystemPrompt: "You are Dana"})
	require.NoError(t, err)
	assert.Equal(t, "Dana", created.Name)
}
