// Package quiz generates multiple-choice quizzes with the model, stores them,
// and scores attempts.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/ai"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/plans"
	"github.com/kuitang/shastra/internal/usage"
)

const (
	DefaultCount = 5
	MinCount     = 3
	MaxCount     = 10

	maxTopicLength = 200
	listLimit      = 100
)

// Difficulty levels accepted by Generate.
const (
	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

// Unanswered marks a skipped question in a submission.
const Unanswered = -1

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Service struct {
	store *db.Store
	usage *usage.Service
	ai    ai.Client
	clock Clock
}

func NewService(store *db.Store, usageSvc *usage.Service, client ai.Client) *Service {
	return &Service{store: store, usage: usageSvc, ai: client, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// GenerateInput is the quiz-generate request body.
type GenerateInput struct {
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
	Count      int    `json:"count"`
	Topic      string `json:"topic"`
}

// QuestionView is a question as shown to the user. The answer fields are
// only filled once the user has attempted the quiz.
type QuestionView struct {
	ID           string   `json:"id"`
	Position     int      `json:"position"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

type View struct {
	db.Quiz
	Attempted bool           `json:"attempted"`
	Questions []QuestionView `json:"questions"`
}

// GenerateResult is the quiz-generate response body.
type GenerateResult struct {
	Quiz             View `json:"quiz"`
	RemainingQuizzes int  `json:"remaining_quizzes"`
}

// QuestionResult reports one scored answer.
type QuestionResult struct {
	QuestionID   string `json:"question_id"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correct_index"`
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation"`
}

type SubmitResult struct {
	Progress db.Progress      `json:"progress"`
	Results  []QuestionResult `json:"results"`
}

// ProgressReport is the attempt history plus aggregate accuracy.
type ProgressReport struct {
	Attempts       []db.Progress `json:"attempts"`
	TotalAttempts  int64         `json:"total_attempts"`
	TotalCorrect   int64         `json:"total_correct"`
	TotalQuestions int64         `json:"total_questions"`
	Accuracy       float64       `json:"accuracy"`
}

func normalize(in GenerateInput) (GenerateInput, error) {
	if in.Category == "" {
		in.Category = plans.BhagavadGita
	}
	if !plans.IsCategory(in.Category) {
		return in, errs.New(errs.InvalidArgument, "unknown category")
	}
	in.Difficulty = strings.ToLower(strings.TrimSpace(in.Difficulty))
	switch in.Difficulty {
	case "":
		in.Difficulty = Medium
	case Easy, Medium, Hard:
	default:
		return in, errs.New(errs.InvalidArgument, "difficulty must be easy, medium or hard")
	}
	if in.Count == 0 {
		in.Count = DefaultCount
	}
	if in.Count < MinCount || in.Count > MaxCount {
		return in, errs.New(errs.InvalidArgument, fmt.Sprintf("count must be between %d and %d", MinCount, MaxCount))
	}
	in.Topic = strings.TrimSpace(in.Topic)
	if len(in.Topic) > maxTopicLength {
		return in, errs.New(errs.InvalidArgument, "topic too long")
	}
	return in, nil
}

// Generate checks the category against the plan, consumes one quiz, asks the
// model for questions and stores the result. The consume is refunded when
// generation or persistence fails.
func (s *Service) Generate(ctx context.Context, userID string, in GenerateInput) (*GenerateResult, error) {
	in, err := normalize(in)
	if err != nil {
		return nil, err
	}

	tier, _, err := s.usage.Tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := plans.For(tier)
	if !plans.Resolve(tier, plans.Usage{}).IsCategoryAllowed(in.Category) {
		return nil, errs.New(errs.PaymentRequired,
			fmt.Sprintf("%s is not included in the %s plan", ai.CategoryName(in.Category), limits.Name))
	}

	if err := s.usage.ConsumeQuiz(ctx, userID, limits.MaxQuizzes); err != nil {
		if errors.Is(err, usage.ErrLimitReached) {
			return nil, errs.Wrap(errs.ResourceExhausted, "quiz limit reached for your plan", err)
		}
		return nil, err
	}

	view, err := s.generate(ctx, userID, in)
	if err != nil {
		if rerr := s.usage.RefundQuiz(ctx, userID); rerr != nil {
			log.Printf("[QUIZ] Failed to refund quiz for user %s: %v", userID, rerr)
		}
		return nil, err
	}

	snap, err := s.usage.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Quiz: *view, RemainingQuizzes: snap.Entitlements.RemainingQuizzes}, nil
}

func (s *Service) generate(ctx context.Context, userID string, in GenerateInput) (*View, error) {
	gen, err := s.ai.GenerateQuiz(ctx, ai.QuizRequest{
		Category:   in.Category,
		Difficulty: in.Difficulty,
		Count:      in.Count,
		Topic:      in.Topic,
	})
	if err != nil {
		obs.From(ctx).Warn("quiz_generate_failed", "category", in.Category, "err", err)
		return nil, errs.Wrap(errs.Unavailable, "could not generate a quiz, please try again", err)
	}

	var valid []ai.GeneratedQuestion
	for _, q := range gen.Questions {
		if ai.ValidQuestion(q) {
			valid = append(valid, q)
		}
		if len(valid) == in.Count {
			break
		}
	}
	if len(valid) == 0 {
		return nil, errs.Wrap(errs.Unavailable, "could not generate a quiz, please try again", ai.ErrUnavailable)
	}

	title := strings.TrimSpace(gen.Title)
	if title == "" {
		title = "Quiz on " + ai.CategoryName(in.Category)
	}
	z := db.Quiz{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		Category:      in.Category,
		Difficulty:    in.Difficulty,
		QuestionCount: len(valid),
		CreatedAt:     s.clock.Now().Unix(),
	}
	questions := make([]db.Question, len(valid))
	for i, q := range valid {
		questions[i] = db.Question{
			ID:           uuid.NewString(),
			QuizID:       z.ID,
			Position:     i + 1,
			Prompt:       strings.TrimSpace(q.Question),
			Options:      q.Options,
			CorrectIndex: q.CorrectIndex,
			Explanation:  strings.TrimSpace(q.Explanation),
		}
	}

	if err := s.store.InTx(ctx, func(q *db.Queries) error {
		return q.InsertQuiz(ctx, z, questions)
	}); err != nil {
		return nil, fmt.Errorf("store quiz: %w", err)
	}
	log.Printf("[QUIZ] Generated quiz %s (%s, %s, %d questions) for user %s", z.ID, z.Category, z.Difficulty, len(questions), userID)
	return buildView(z, questions, false), nil
}

func buildView(z db.Quiz, questions []db.Question, attempted bool) *View {
	v := &View{Quiz: z, Attempted: attempted, Questions: make([]QuestionView, len(questions))}
	for i, q := range questions {
		qv := QuestionView{ID: q.ID, Position: q.Position, Prompt: q.Prompt, Options: q.Options}
		if attempted {
			idx := q.CorrectIndex
			qv.CorrectIndex = &idx
			qv.Explanation = q.Explanation
		}
		v.Questions[i] = qv
	}
	return v
}

func (s *Service) load(ctx context.Context, userID, quizID string) (*db.Quiz, []db.Question, error) {
	z, err := s.store.GetQuiz(ctx, userID, quizID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, errs.New(errs.NotFound, "quiz not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get quiz: %w", err)
	}
	questions, err := s.store.ListQuestions(ctx, z.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	return z, questions, nil
}

// Get returns the quiz. Correct answers stay hidden until the user has
// submitted at least one attempt.
func (s *Service) Get(ctx context.Context, userID, quizID string) (*View, error) {
	z, questions, err := s.load(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	attempted, err := s.store.HasAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("check attempt: %w", err)
	}
	return buildView(*z, questions, attempted), nil
}

func (s *Service) List(ctx context.Context, userID string) ([]db.Quiz, error) {
	return s.store.ListQuizzes(ctx, userID, listLimit)
}

// Submit scores one attempt. answers holds the selected option index per
// question in position order; Unanswered counts as wrong.
func (s *Service) Submit(ctx context.Context, userID, quizID string, answers []int) (*SubmitResult, error) {
	z, questions, err := s.load(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(questions) {
		return nil, errs.New(errs.InvalidArgument,
			fmt.Sprintf("expected %d answers, got %d", len(questions), len(answers)))
	}

	results, score, err := Score(questions, answers)
	if err != nil {
		return nil, err
	}

	p := db.Progress{
		ID:          uuid.NewString(),
		UserID:      userID,
		QuizID:      z.ID,
		Score:       score,
		Total:       len(questions),
		Answers:     answers,
		CompletedAt: s.clock.Now().Unix(),
	}
	if err := s.store.InsertProgress(ctx, p); err != nil {
		return nil, err
	}
	return &SubmitResult{Progress: p, Results: results}, nil
}

// Score grades answers against questions. It rejects out-of-range
// selections other than Unanswered.
func Score(questions []db.Question, answers []int) ([]QuestionResult, int, error) {
	results := make([]QuestionResult, len(questions))
	score := 0
	for i, q := range questions {
		sel := answers[i]
		if sel != Unanswered && (sel < 0 || sel >= len(q.Options)) {
			return nil, 0, errs.New(errs.InvalidArgument, fmt.Sprintf("answer %d is out of range", i+1))
		}
		correct := sel == q.CorrectIndex
		if correct {
			score++
		}
		results[i] = QuestionResult{
			QuestionID:   q.ID,
			Selected:     sel,
			CorrectIndex: q.CorrectIndex,
			Correct:      correct,
			Explanation:  q.Explanation,
		}
	}
	return results, score, nil
}

// Progress returns recent attempts and overall accuracy in [0, 1].
func (s *Service) Progress(ctx context.Context, userID string) (*ProgressReport, error) {
	attempts, err := s.store.ListProgress(ctx, userID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	sum, err := s.store.SummarizeProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("summarize progress: %w", err)
	}
	r := &ProgressReport{
		Attempts:       attempts,
		TotalAttempts:  sum.Attempts,
		TotalCorrect:   sum.TotalCorrect,
		TotalQuestions: sum.TotalQuestions,
	}
	if sum.TotalQuestions > 0 {
		r.Accuracy = float64(sum.TotalCorrect) / float64(sum.TotalQuestions)
	}
	return r, nil
}
