package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/podc/assistant-widget/internal/config"
	"github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/service/catalog"
)

// Answer is a generated reply plus the sources it was grounded on.
type Answer struct {
	Text      string
	Citations []widget.Citation
}

// Service answers PODC questions through an eino chain.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptBuilder
	catalog *catalog.Catalog
	results int
	stream  bool
}

// NewService builds the chat model from cfg and wires the answer chain.
// docs may be nil, in which case replies carry no citations.
func NewService(ctx context.Context, cfg config.AIConfig, docs *catalog.Catalog, results int) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, docs, results)
}

// NewServiceWithModel wires the answer chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, docs *catalog.Catalog, results int) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:   runnable,
		prompts: NewPromptBuilder(cfg.Instructions),
		catalog: docs,
		results: results,
		stream:  cfg.StreamResponse,
	}, nil
}

// StreamingEnabled reports whether /chat/stream should use the model stream.
func (s *Service) StreamingEnabled() bool {
	return s.stream
}

// GenerateResponse answers one question.
func (s *Service) GenerateResponse(ctx context.Context, query string) (Answer, error) {
	docs := s.retrieve(query)

	response, err := s.chain.Invoke(ctx, s.buildChainInput(query, docs))
	if err != nil {
		return Answer{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response length=%d sources=%d", len(response.Content), len(docs))
	return Answer{Text: response.Content, Citations: citationsOf(docs)}, nil
}

// StreamResponse streams the answer to one question. The citations are known
// up front and returned alongside the stream.
func (s *Service) StreamResponse(ctx context.Context, query string) (*schema.StreamReader[*schema.Message], []widget.Citation, error) {
	if !s.StreamingEnabled() {
		return nil, nil, fmt.Errorf("streaming disabled in configuration")
	}

	docs := s.retrieve(query)
	stream, err := s.chain.Stream(ctx, s.buildChainInput(query, docs))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, citationsOf(docs), nil
}

func (s *Service) retrieve(query string) []catalog.Document {
	return s.catalog.Search(query, s.results)
}

func (s *Service) buildChainInput(query string, docs []catalog.Document) map[string]any {
	return map[string]any{
		"system": s.prompts.BuildSystemPrompt(docs),
		"query":  query,
	}
}

func citationsOf(docs []catalog.Document) []widget.Citation {
	citations := make([]widget.Citation, 0, len(docs))
	for _, doc := range docs {
		citations = append(citations, doc.Citation())
	}
	return citations
}
