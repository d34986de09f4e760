package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/papersift/llm-engine/pkg/pool"
)

// GeminiCaller invokes the Gemini API via the official genai SDK.
//
// Clients are cached per credential key: the SDK client is safe for
// concurrent use and rebuilding one per call would re-dial on every batch.
type GeminiCaller struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
	logger  zerolog.Logger
}

// NewGeminiCaller creates a caller with an empty client cache.
func NewGeminiCaller(logger zerolog.Logger) *GeminiCaller {
	return &GeminiCaller{
		clients: make(map[string]*genai.Client),
		logger:  logger.With().Str("component", "provider").Logger(),
	}
}

func (g *GeminiCaller) clientFor(ctx context.Context, cred pool.Credential) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[cred.Key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cred.Key})
	if err != nil {
		return nil, wrapCall(err)
	}
	g.clients[cred.Key] = c
	return c, nil
}

// Complete implements Caller. When req.OnTokens is set the call streams and
// the callback receives each chunk as it arrives.
func (g *GeminiCaller) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	client, err := g.clientFor(ctx, req.Credential)
	if err != nil {
		return CompleteResult{}, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.StructuredJSON {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = verdictSchema()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	log := g.logger.With().
		Str("model", req.Model).
		Str("credential", req.Credential.Masked()).
		Logger()

	if req.OnTokens != nil {
		return g.stream(ctx, client, req, contents, config, log)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		callErr := wrapCall(err)
		log.Warn().Str("class", string(callErr.Class)).Int("code", callErr.Code).Msg("Generate call failed")
		return CompleteResult{}, callErr
	}

	result := CompleteResult{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Tokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	log.Debug().Int64("tokens", result.Tokens).Msg("Generate call completed")
	return result, nil
}

func (g *GeminiCaller) stream(
	ctx context.Context,
	client *genai.Client,
	req CompleteRequest,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	log zerolog.Logger,
) (CompleteResult, error) {
	var sb strings.Builder
	var tokens int64

	for chunk, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			callErr := wrapCall(err)
			log.Warn().Str("class", string(callErr.Class)).Int("code", callErr.Code).Msg("Streaming call failed")
			return CompleteResult{}, callErr
		}
		text := chunk.Text()
		if text != "" {
			sb.WriteString(text)
			req.OnTokens(text)
		}
		// Usage metadata arrives cumulatively; the last chunk wins.
		if chunk.UsageMetadata != nil {
			tokens = int64(chunk.UsageMetadata.TotalTokenCount)
		}
	}

	log.Debug().Int64("tokens", tokens).Msg("Streaming call completed")
	return CompleteResult{Text: sb.String(), Tokens: tokens}, nil
}

// verdictSchema constrains structured replies to an array of per-paper
// verdicts so the decoder never has to guess at shapes.
func verdictSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"id":        {Type: genai.TypeString},
				"decision":  {Type: genai.TypeBoolean},
				"reasoning": {Type: genai.TypeString},
			},
			Required: []string{"id", "decision", "reasoning"},
		},
	}
}
