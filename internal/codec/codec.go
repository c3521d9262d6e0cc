package codec

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region errors

var (
	// ErrGenerationFailed covers every generator failure other than a deadline.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrGenerationTimeout is returned when the call deadline passes before a reply.
	ErrGenerationTimeout = errors.New("generation timed out")
)

// Normalize maps a backend error onto ErrGenerationTimeout or ErrGenerationFailed, keeping
// the original error in the chain. nil stays nil.
func Normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrGenerationTimeout), errors.Is(err, ErrGenerationFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
}

// #endregion errors

// #region types

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to a generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a reply for an ordered message list. Implementations return errors
// that match ErrGenerationFailed or ErrGenerationTimeout under errors.Is.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// #endregion types
