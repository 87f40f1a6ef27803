package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
)

const openaiBackend = "openai"

// OpenAIClient embeds text with the hosted OpenAI embeddings API.
type OpenAIClient struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIClient returns a client for the given key. baseURL may be empty to
// use the public endpoint; model defaults to text-embedding-ada-002.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, &EmbeddingError{Backend: openaiBackend, Err: errors.New("api key is required")}
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	m := openai.AdaEmbeddingV2
	if model != "" {
		m = openai.EmbeddingModel(model)
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  m,
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts in one request and returns vectors in input
// order, regardless of the order the API lists them in.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, &EmbeddingError{Backend: openaiBackend, Err: err}
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vecs := make([][]float32, 0, len(data))
	for i, d := range data {
		if d.Index != i {
			return nil, &EmbeddingError{Backend: openaiBackend, Err: fmt.Errorf("unexpected embedding index %d at %d", d.Index, i)}
		}
		vecs = append(vecs, d.Embedding)
	}

	if err := checkBatch(openaiBackend, len(texts), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (c *OpenAIClient) Fingerprint() string {
	return openaiBackend + ":" + string(c.model)
}
