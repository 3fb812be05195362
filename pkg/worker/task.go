package worker

import (
	"context"
	"log/slog"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
	"github.com/agenthive/hive/pkg/upstream"
)

// Conversation is the slice of the upstream client a runner drives.
// *upstream.Client implements it.
type Conversation interface {
	CreateConversation(ctx context.Context, message string, opts upstream.TurnOptions) (*upstream.TurnResult, error)
	ConversationTurn(ctx context.Context, conversationID, message string, opts upstream.TurnOptions) (*upstream.TurnResult, error)
	DestroyConversation(ctx context.Context, conversationID string) error
}

// TaskOutcome is one executed task's result. Errors travel as data: a
// failed task has Status "error" and the message in Error, never a Go
// error to the dispatcher.
type TaskOutcome struct {
	Status             string         `json:"status"`
	Reply              string         `json:"reply,omitempty"`
	AgentRoundsCount   int            `json:"agent_rounds_count"`
	Worker             string         `json:"worker"`
	StructuredReply    map[string]any `json:"structured_reply,omitempty"`
	ValidationWarnings []string       `json:"validation_warnings,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// Runner executes tasks for one worker over one upstream conversation.
// The first task creates the conversation; later tasks continue it, so
// the system-instructions preamble is sent exactly once. Not safe for
// concurrent use; each worker owns one runner.
type Runner struct {
	cfg    config.WorkerConfig
	conv   Conversation
	logger *slog.Logger

	conversationID string
	turns          int
}

// NewRunner wraps a conversation for the given worker definition.
func NewRunner(cfg config.WorkerConfig, conv Conversation, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, conv: conv, logger: logger.With("worker", cfg.Role)}
}

// ConversationID returns the active conversation id, empty before the
// first task.
func (r *Runner) ConversationID() string { return r.conversationID }

// ExecuteTask runs one task and returns its outcome. When an answer
// schema is defined and a JSON object can be extracted from the reply,
// the outcome carries the soft-validated structured reply alongside the
// raw text.
func (r *Runner) ExecuteTask(ctx context.Context, prompt string, contextData, structured map[string]any, onProgress upstream.ProgressFunc) TaskOutcome {
	message := BuildPrompt(r.cfg, prompt, contextData, structured, r.turns == 0)
	opts := upstream.TurnOptions{
		Model:      r.cfg.Model,
		AgentMode:  r.cfg.AgentModeEnabled(),
		OnProgress: onProgress,
	}

	var (
		result *upstream.TurnResult
		err    error
	)
	if r.conversationID == "" {
		result, err = r.conv.CreateConversation(ctx, message, opts)
	} else {
		result, err = r.conv.ConversationTurn(ctx, r.conversationID, message, opts)
	}
	if err != nil {
		r.logger.Error("Task failed", "error", err)
		return TaskOutcome{Status: "error", Error: err.Error(), Worker: r.cfg.Role}
	}

	r.conversationID = result.ConversationID
	r.turns++

	outcome := TaskOutcome{
		Status:           "success",
		Reply:            result.Reply,
		AgentRoundsCount: len(result.AgentRounds),
		Worker:           r.cfg.Role,
	}
	if len(r.cfg.AnswerSchema) > 0 {
		if extracted := schema.ExtractJSON(result.Reply); extracted != nil {
			validated := schema.SoftValidate(extracted, r.cfg.AnswerSchema)
			outcome.StructuredReply = schema.BuildAnswer(validated)
			outcome.ValidationWarnings = validated.Warnings
		}
	}
	return outcome
}

// Close destroys the active conversation, if any.
func (r *Runner) Close(ctx context.Context) {
	if r.conversationID == "" {
		return
	}
	if err := r.conv.DestroyConversation(ctx, r.conversationID); err != nil {
		r.logger.Debug("Conversation destroy failed", "error", err)
	}
	r.conversationID = ""
}
