package bank

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pavelanni/kotoba/internal/model"
)

//go:embed questions/*.json
var questionFS embed.FS

const defaultFile = "questions/n5.json"

var (
	loadOnce    sync.Once
	loadErr     error
	defaultBank *Bank
)

// Bank is the fixed, ordered question sequence shared by every attempt.
// A question's position is its index and never changes.
type Bank struct {
	questions []model.Question
	version   string
}

// Default returns the embedded question bank, parsed once per process.
func Default() (*Bank, error) {
	loadOnce.Do(func() {
		data, err := questionFS.ReadFile(defaultFile)
		if err != nil {
			loadErr = fmt.Errorf("read %s: %w", defaultFile, err)
			return
		}
		defaultBank, loadErr = Parse(data)
	})
	return defaultBank, loadErr
}

// Parse decodes and validates a JSON question list.
func Parse(data []byte) (*Bank, error) {
	var questions []model.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, errors.New("question bank is empty")
	}
	for i, q := range questions {
		if err := validate(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}
	return &Bank{questions: questions, version: sha256sum(data)}, nil
}

func validate(q model.Question) error {
	if q.Prompt == "" {
		return errors.New("prompt is required")
	}
	if q.Answer == "" {
		return errors.New("answer is required")
	}
	switch q.Kind {
	case model.KindMultipleChoice:
		if len(q.Options) < 2 {
			return errors.New("multiple-choice question needs at least two options")
		}
		if !q.HasOption(q.Answer) {
			return fmt.Errorf("answer %q is not one of the options", q.Answer)
		}
	case model.KindEssay:
		if len(q.Options) > 0 {
			return errors.New("essay question must not have options")
		}
	default:
		return fmt.Errorf("unknown question type %q", q.Kind)
	}
	return nil
}

// Len returns the number of questions.
func (b *Bank) Len() int { return len(b.questions) }

// Version is the SHA-256 of the asset the bank was parsed from.
func (b *Bank) Version() string { return b.version }

// Question returns the question at index i.
func (b *Bank) Question(i int) (model.Question, bool) {
	if i < 0 || i >= len(b.questions) {
		return model.Question{}, false
	}
	return b.questions[i], true
}

// Count returns how many questions of the given kind the bank holds.
func (b *Bank) Count(kind model.QuestionKind) int {
	n := 0
	for _, q := range b.questions {
		if q.Kind == kind {
			n++
		}
	}
	return n
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
