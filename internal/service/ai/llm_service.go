package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/handbook-assistant/backend/internal/config"
	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrEmptyAnswer   = errors.New("model returned an empty answer")
)

// Service answers handbook questions with retrieved passages as grounding.
type Service struct {
	chatModel model.BaseChatModel
	retriever retriever.Retriever
	topK      int
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the Ark chat model from cfg and wires it into the answer chain.
func NewService(ctx context.Context, r retriever.Retriever, cfg config.AIConfig, topK int) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, r, topK)
}

// NewServiceWithModel wires an existing chat model into the answer chain.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, r retriever.Retriever, topK int) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		retriever: r,
		topK:      topK,
		chain:     runnable,
	}, nil
}

// Generate answers question using retrieved handbook passages and recent history.
func (s *Service) Generate(ctx context.Context, question string, history []chat.Turn) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	var opts []retriever.Option
	if s.topK > 0 {
		opts = append(opts, retriever.WithTopK(s.topK))
	}
	docs, err := s.retriever.Retrieve(ctx, "query: "+question, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	log.Printf("[ai] retrieved %d passages for question=%q", len(docs), question)

	if len(docs) == 0 {
		return NotFoundMessage(DetectLanguage(question)), nil
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  BuildSystemPrompt(docs),
		"history": buildHistoryMessages(history),
		"query":   question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run answer chain: %w", err)
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}

	log.Printf("[ai] generated answer length=%d sources=%s", len(answer), strings.Join(sourceFiles(docs), ","))
	return answer, nil
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	history := make([]*schema.Message, 0, len(turns)*2)
	for _, turn := range turns {
		history = append(history, schema.UserMessage(turn.Question))
		history = append(history, schema.AssistantMessage(turn.Answer, nil))
	}
	return history
}

func sourceFiles(docs []*schema.Document) []string {
	files := make([]string, 0, len(docs))
	for _, doc := range docs {
		if file, ok := doc.MetaData["source_file"].(string); ok && file != "" {
			files = append(files, file)
		}
	}
	return files
}
