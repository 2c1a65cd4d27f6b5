package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/telemetry"
)

const (
	DefaultAmbiguityGap = 0.025

	minQueryLength    = 4
	maxAmbiguousTitle = 5
)

// Reply texts shown to support agents.
const (
	MessageIncomplete = "Por favor, informe código do erro, descrição completa ou uma captura de tela."
	MessageAskClass   = "Qual subclasse você quer listar (studio, xwork, erros, integracao)?"
	MessageNotFound   = "Este erro não está na nossa base de dados de erros do suporte. Por favor, encaminhe a ocorrência no grupo de suporte para análise."
	MessageAmbiguous  = "Encontrei mais de um erro possível. Qual destes se aplica ao seu caso?"
)

// EmptyListMessage is the reply for a class without entries.
func EmptyListMessage(class domain.Class) string {
	return fmt.Sprintf("Não há erros cadastrados para %s no momento.", class)
}

// ChatReplyKind tells the renderer which shape a reply has.
type ChatReplyKind string

const (
	ReplyIncomplete ChatReplyKind = "incomplete"
	ReplyAskClass   ChatReplyKind = "ask_class"
	ReplyEmptyList  ChatReplyKind = "empty_list"
	ReplyTitles     ChatReplyKind = "titles"
	ReplyNotFound   ChatReplyKind = "not_found"
	ReplyAmbiguous  ChatReplyKind = "ambiguous"
	ReplyAnswer     ChatReplyKind = "answer"
)

// ChatAnswer is a knowledge entry read back out of its best chunk.
type ChatAnswer struct {
	Title      string `json:"titulo"`
	Cause      string `json:"porque_ocorre"`
	Handling   string `json:"tratativa"`
	Resolution string `json:"resolucao"`
	Source     string `json:"link_da_base"`
}

// ChatReply is the outcome of one chat turn.
type ChatReply struct {
	Kind    ChatReplyKind
	Message string
	Class   domain.Class
	Titles  []string
	Options []string
	Answer  *ChatAnswer
	Score   float64
}

// ChatInput is one user message. Class, when set, overrides class guessing.
type ChatInput struct {
	Query      string
	Class      *domain.Class
	K          int
	ListTitles bool
}

// KnowledgeReader is the part of KnowledgeService the chat flow reads from.
type KnowledgeReader interface {
	Search(ctx context.Context, input SearchInput) ([]domain.ScoredResult, error)
	ListTitles(ctx context.Context, class domain.Class) ([]string, error)
}

// ChatService answers support questions on top of search and listing.
type ChatService struct {
	knowledge    KnowledgeReader
	ambiguityGap float64
	logger       *zap.Logger
}

// NewChatService creates a ChatService. A non-positive gap uses DefaultAmbiguityGap.
func NewChatService(knowledge KnowledgeReader, ambiguityGap float64, logger *zap.Logger) *ChatService {
	if ambiguityGap <= 0 {
		ambiguityGap = DefaultAmbiguityGap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		knowledge:    knowledge,
		ambiguityGap: ambiguityGap,
		logger:       logger.Named("chat"),
	}
}

// Respond routes a message to listing or search and shapes the reply.
func (s *ChatService) Respond(ctx context.Context, input ChatInput) (*ChatReply, error) {
	if input.Class != nil && !input.Class.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid class: %s", *input.Class))
	}
	k := input.K
	if k < 1 {
		k = DefaultResultCount
	}

	if len([]rune(strings.TrimSpace(input.Query))) < minQueryLength {
		return &ChatReply{Kind: ReplyIncomplete, Message: MessageIncomplete}, nil
	}

	if input.ListTitles || IsListIntent(input.Query) {
		return s.list(ctx, input)
	}

	target := domain.ClassErrors
	if input.Class != nil {
		target = *input.Class
	} else if guessed, ok := GuessClass(input.Query); ok {
		target = guessed
	}

	telemetry.AddBreadcrumb(ctx, "chat", "answering from "+string(target))
	results, err := s.knowledge.Search(ctx, SearchInput{Query: input.Query, K: k, Class: &target})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &ChatReply{Kind: ReplyNotFound, Class: target, Message: MessageNotFound}, nil
	}

	if len(results) > 1 && results[0].Score-results[1].Score < s.ambiguityGap {
		s.logger.Debug("ambiguous match",
			zap.Float64("top", results[0].Score),
			zap.Float64("runner_up", results[1].Score),
		)
		return &ChatReply{
			Kind:    ReplyAmbiguous,
			Class:   target,
			Message: MessageAmbiguous,
			Options: ambiguousOptions(results),
		}, nil
	}

	top := results[0]
	return &ChatReply{
		Kind:   ReplyAnswer,
		Class:  target,
		Answer: answerFromRecord(top.Record),
		Score:  top.Score,
	}, nil
}

func (s *ChatService) list(ctx context.Context, input ChatInput) (*ChatReply, error) {
	var target domain.Class
	if input.Class != nil {
		target = *input.Class
	} else if guessed, ok := GuessClass(input.Query); ok {
		target = guessed
	} else {
		return &ChatReply{Kind: ReplyAskClass, Message: MessageAskClass}, nil
	}

	titles, err := s.knowledge.ListTitles(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return &ChatReply{Kind: ReplyEmptyList, Class: target, Message: EmptyListMessage(target)}, nil
	}
	return &ChatReply{Kind: ReplyTitles, Class: target, Titles: titles}, nil
}

// ambiguousOptions returns the distinct titles among the first results.
func ambiguousOptions(results []domain.ScoredResult) []string {
	if len(results) > maxAmbiguousTitle {
		results = results[:maxAmbiguousTitle]
	}
	seen := make(map[string]struct{}, len(results))
	options := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Record.Title]; ok {
			continue
		}
		seen[r.Record.Title] = struct{}{}
		options = append(options, r.Record.Title)
	}
	return options
}

var fieldPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, label := range []string{LabelTitle, LabelCause, LabelHandling, LabelResolution, LabelSource} {
		fieldPatterns[label] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*:\s*(.*)`)
	}
}

// extractField reads the value after the first "label:" in chunk.
func extractField(label, chunk string) string {
	m := fieldPatterns[label].FindStringSubmatch(chunk)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func answerFromRecord(r domain.ChunkRecord) *ChatAnswer {
	title := extractField(LabelTitle, r.Chunk)
	if title == "" {
		title = r.Title
	}
	return &ChatAnswer{
		Title:      title,
		Cause:      extractField(LabelCause, r.Chunk),
		Handling:   extractField(LabelHandling, r.Chunk),
		Resolution: extractField(LabelResolution, r.Chunk),
		Source:     extractField(LabelSource, r.Chunk),
	}
}
