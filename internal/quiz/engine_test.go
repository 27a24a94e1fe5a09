package quiz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/kotoba/internal/bank"
	"github.com/pavelanni/kotoba/internal/model"
)

type progressCall struct {
	userID  string
	score   int
	quizID  string
	answers []string
}

// fakeGateway is an in-memory Gateway that counts calls.
type fakeGateway struct {
	current    *model.UserRecord
	currentErr error
	users      map[string]*model.UserRecord
	passwords  map[string]string
	statusErr  error
	updateErr  error

	calls    map[string]int
	progress []progressCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		users:     map[string]*model.UserRecord{},
		passwords: map[string]string{},
		calls:     map[string]int{},
	}
}

func (f *fakeGateway) addUser(username, password string) *model.UserRecord {
	u := model.NewUserRecord("id-"+username, username, "Full "+username, time.Now())
	f.users[username] = &u
	f.passwords[username] = password
	return &u
}

func (f *fakeGateway) CurrentUser(context.Context) (*model.UserRecord, error) {
	f.calls["CurrentUser"]++
	return f.current, f.currentErr
}

func (f *fakeGateway) Login(_ context.Context, username, password string) (*model.UserRecord, error) {
	f.calls["Login"]++
	u, ok := f.users[username]
	if !ok || f.passwords[username] != password {
		return nil, model.ErrInvalidCredentials
	}
	return u, nil
}

func (f *fakeGateway) Register(_ context.Context, username, password, fullName string) (*model.UserRecord, error) {
	f.calls["Register"]++
	if _, ok := f.users[username]; ok {
		return nil, model.ErrUsernameInUse
	}
	u := model.NewUserRecord("id-"+username, username, fullName, time.Now())
	f.users[username] = &u
	f.passwords[username] = password
	return &u, nil
}

func (f *fakeGateway) CheckUserStatus(_ context.Context, username string) (model.AuthStatus, error) {
	f.calls["CheckUserStatus"]++
	if f.statusErr != nil {
		return model.StatusNew, f.statusErr
	}
	if _, ok := f.users[username]; ok {
		return model.StatusExisting, nil
	}
	return model.StatusNew, nil
}

func (f *fakeGateway) GetUserByUsername(_ context.Context, username string) (*model.UserRecord, error) {
	f.calls["GetUserByUsername"]++
	return f.users[username], nil
}

func (f *fakeGateway) UpdateUserProgress(_ context.Context, userID string, score int, quizID string, answers []string) error {
	f.calls["UpdateUserProgress"]++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.progress = append(f.progress, progressCall{userID, score, quizID, answers})
	for _, u := range f.users {
		if u.ID == userID {
			u.ApplyProgress(score, quizID, answers, time.Now())
		}
	}
	return nil
}

func defaultBank(t *testing.T) *bank.Bank {
	t.Helper()
	b, err := bank.Default()
	require.NoError(t, err)
	return b
}

// signedIn returns an engine whose gate is resolved for user taro.
func signedIn(t *testing.T, p Params) (*Engine, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	gw.current = gw.addUser("taro", "rahasia")
	e := New(defaultBank(t), gw)
	e.Init(context.Background(), p)
	require.True(t, e.Resolved())
	return e, gw
}

func answerCurrent(t *testing.T, e *Engine, answer string) {
	t.Helper()
	q, ok := e.CurrentQuestion()
	require.True(t, ok)
	if q.Kind == model.KindMultipleChoice {
		require.NoError(t, e.SelectAnswer(answer))
	} else {
		require.NoError(t, e.SetEssayDraft(answer))
	}
	require.NoError(t, e.SubmitAnswer(context.Background()))
}

func wrongOption(q model.Question) string {
	for _, o := range q.Options {
		if o != q.Answer {
			return o
		}
	}
	return ""
}

func TestInitDefaults(t *testing.T) {
	gw := newFakeGateway()
	e := New(defaultBank(t), gw)
	e.Init(context.Background(), Params{})

	require.Equal(t, DefaultQuizID, e.QuizID())
	require.Equal(t, StepUsername, e.Gate().Step)
	require.False(t, e.Resolved())
	require.Nil(t, e.User())
}

func TestInitCurrentUserErrorOpensGate(t *testing.T) {
	gw := newFakeGateway()
	gw.current = gw.addUser("taro", "pw")
	gw.currentErr = errors.New("backend down")
	e := New(defaultBank(t), gw)
	e.Init(context.Background(), Params{QuizID: "soal1"})

	require.Equal(t, StepUsername, e.Gate().Step)
	require.Nil(t, e.User())
}

func TestGateLocksQuiz(t *testing.T) {
	e := New(defaultBank(t), newFakeGateway())
	e.Init(context.Background(), Params{})

	require.ErrorIs(t, e.SelectAnswer("neko"), ErrGateLocked)
	require.ErrorIs(t, e.SubmitAnswer(context.Background()), ErrGateLocked)
	require.ErrorIs(t, e.ResetQuiz(), ErrGateLocked)
	require.False(t, e.CanSubmit())
}

func TestNewUserRegistration(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{})

	require.NoError(t, e.CheckUsername(ctx, "newperson"))
	g := e.Gate()
	require.Equal(t, StepPassword, g.Step)
	require.Equal(t, model.StatusNew, g.Status)
	require.Equal(t, "newperson", g.Username)

	// Missing full name fails validation before any backend call.
	require.NoError(t, e.SubmitAuth(ctx, "x", ""))
	require.Equal(t, MsgFullNameRequired, e.Gate().Error)
	require.Equal(t, StepPassword, e.Gate().Step)
	require.Zero(t, gw.calls["Register"])
	require.Zero(t, gw.calls["Login"])

	require.NoError(t, e.SubmitAuth(ctx, "x", "New Person"))
	require.True(t, e.Resolved())
	require.Equal(t, 1, gw.calls["Register"])
	u := e.User()
	require.Equal(t, "New Person", u.FullName)
	require.Zero(t, u.Score)
	require.Empty(t, u.History)
	require.Empty(t, e.Gate().Error)
	require.Empty(t, e.Gate().Password)
}

func TestEmptyInputsIgnored(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{})

	require.NoError(t, e.CheckUsername(ctx, ""))
	require.Equal(t, StepUsername, e.Gate().Step)
	require.Zero(t, gw.calls["CheckUserStatus"])

	require.NoError(t, e.CheckUsername(ctx, "newperson"))
	require.NoError(t, e.SubmitAuth(ctx, "", "Name"))
	require.Equal(t, StepPassword, e.Gate().Step)
	require.Zero(t, gw.calls["Register"])
}

func TestExistingUsernameResolvesDirectly(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.addUser("hanako", "pw")
	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{})

	require.NoError(t, e.CheckUsername(ctx, "hanako"))
	require.True(t, e.Resolved())
	require.Equal(t, "hanako", e.User().Username)
	require.Equal(t, model.StatusExisting, e.Gate().Status)
	require.Zero(t, gw.calls["Login"])
}

func TestSubmitAuthErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid credentials", func(t *testing.T) {
		gw := newFakeGateway()
		e := New(defaultBank(t), gw)
		e.Init(ctx, Params{})
		// Force the password step for an existing account.
		e.state.Gate = AuthGate{Step: StepPassword, Username: "nobody", Status: model.StatusExisting}

		require.NoError(t, e.SubmitAuth(ctx, "wrong", ""))
		require.Equal(t, MsgInvalidCredentials, e.Gate().Error)
		require.Equal(t, StepPassword, e.Gate().Step)
		require.False(t, e.Gate().Loading)
	})

	t.Run("username in use", func(t *testing.T) {
		gw := newFakeGateway()
		e := New(defaultBank(t), gw)
		e.Init(ctx, Params{})
		require.NoError(t, e.CheckUsername(ctx, "taro"))
		gw.addUser("taro", "pw")

		require.NoError(t, e.SubmitAuth(ctx, "pw", "Taro"))
		require.Equal(t, MsgUsernameInUse, e.Gate().Error)
		require.False(t, e.Resolved())
	})

	t.Run("busy", func(t *testing.T) {
		e := New(defaultBank(t), newFakeGateway())
		e.state.Gate = AuthGate{Step: StepPassword, Username: "taro", Status: model.StatusExisting, Loading: true}
		require.ErrorIs(t, e.SubmitAuth(ctx, "pw", ""), ErrBusy)
	})
}

func TestCheckUsernameLookupFailure(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.statusErr = errors.New("network")
	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{})

	require.NoError(t, e.CheckUsername(ctx, "newperson"))
	g := e.Gate()
	require.Equal(t, model.StatusNew, g.Status)
	require.Equal(t, MsgCheckUsernameFailed, g.Error)
	require.Equal(t, StepPassword, g.Step)
	require.False(t, g.Loading)

	// Registration stays reachable after a failed lookup.
	require.NoError(t, e.SubmitAuth(ctx, "pw", "New Person"))
	require.True(t, e.Resolved())
	require.Equal(t, 1, gw.calls["Register"])
	require.Zero(t, gw.calls["Login"])
	require.Empty(t, e.Gate().Error)
}

func TestFullNameOnlyNeedsToBeNonEmpty(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{})

	require.NoError(t, e.CheckUsername(ctx, "newperson"))
	require.NoError(t, e.SubmitAuth(ctx, "pw", " "))
	require.True(t, e.Resolved())
	require.Equal(t, 1, gw.calls["Register"])
	require.Equal(t, " ", e.User().FullName)
}

func TestPerfectAttempt(t *testing.T) {
	e, gw := signedIn(t, Params{QuizID: "soal1"})
	b := defaultBank(t)
	require.Equal(t, 20, b.Count(model.KindMultipleChoice))
	require.Equal(t, 10, b.Count(model.KindEssay))

	for i := 0; i < b.Len(); i++ {
		require.Len(t, e.Attempt().Answers, e.Attempt().CurrentIndex)
		q, _ := b.Question(i)
		answer := q.Answer
		if q.Kind == model.KindEssay {
			answer = "  " + strings.ToUpper(answer) + " "
		}
		answerCurrent(t, e, answer)
	}

	a := e.Attempt()
	require.True(t, a.Finished)
	require.Len(t, a.Answers, b.Len())
	require.Equal(t, 100, a.RoundedScore())
	require.Equal(t, b.Len(), e.CorrectCount())
	require.Equal(t, b.Len()-1, a.CurrentIndex)

	require.Equal(t, 1, gw.calls["UpdateUserProgress"])
	require.Equal(t, 100, gw.progress[0].score)
	require.Equal(t, "soal1", gw.progress[0].quizID)
	u := gw.users["taro"]
	require.Equal(t, 1, u.CompletedQuizzes)
	require.Equal(t, []string{"soal1"}, u.History)

	// Answers are stored raw.
	require.Equal(t, "  RINGO ", a.Answers[20])
	require.ErrorIs(t, e.SubmitAnswer(context.Background()), ErrCannotSubmit)
	require.Len(t, e.Results(), b.Len())
}

func TestScoreMatchesCorrectCount(t *testing.T) {
	b := defaultBank(t)
	for _, correct := range []int{0, 1, 7, 15, 29} {
		e, gw := signedIn(t, Params{})
		for i := 0; i < b.Len(); i++ {
			q, _ := b.Question(i)
			answer := q.Answer
			if i >= correct {
				if q.Kind == model.KindMultipleChoice {
					answer = wrongOption(q)
				} else {
					answer = "salah"
				}
			}
			answerCurrent(t, e, answer)
		}
		want := int(float64(100*correct)/float64(b.Len()) + 0.5)
		require.Equal(t, want, e.Attempt().RoundedScore(), "correct=%d", correct)
		require.Equal(t, correct, e.CorrectCount())
		require.Equal(t, want, gw.progress[0].score)
	}
}

func TestCanSubmit(t *testing.T) {
	e, _ := signedIn(t, Params{})
	require.False(t, e.CanSubmit())
	require.ErrorIs(t, e.SubmitAnswer(context.Background()), ErrCannotSubmit)
	require.Empty(t, e.Attempt().Answers)

	require.ErrorIs(t, e.SelectAnswer("not-an-option"), ErrUnknownOption)
	require.ErrorIs(t, e.SetEssayDraft("neko"), ErrWrongKind)
	require.NoError(t, e.SelectAnswer("neko"))
	require.True(t, e.CanSubmit())

	// Move to the first essay question.
	b := defaultBank(t)
	for e.Attempt().CurrentIndex < b.Count(model.KindMultipleChoice) {
		q, _ := e.CurrentQuestion()
		answerCurrent(t, e, q.Answer)
	}
	q, _ := e.CurrentQuestion()
	require.Equal(t, model.KindEssay, q.Kind)
	require.ErrorIs(t, e.SelectAnswer("ringo"), ErrWrongKind)
	require.NoError(t, e.SetEssayDraft("   "))
	require.False(t, e.CanSubmit())
	require.NoError(t, e.SetEssayDraft(" ringo"))
	require.True(t, e.CanSubmit())
}

func TestIsCorrectTotal(t *testing.T) {
	e, _ := signedIn(t, Params{})
	for _, i := range []int{-1, 0, 5, 29, 30, 1000} {
		require.False(t, e.IsCorrect(i))
	}
	answerCurrent(t, e, "neko")
	require.True(t, e.IsCorrect(0))
	require.False(t, e.IsCorrect(1))
}

func TestResetQuiz(t *testing.T) {
	e, gw := signedIn(t, Params{})
	answerCurrent(t, e, "neko")
	answerCurrent(t, e, "neko")
	require.NoError(t, e.SelectAnswer("hon"))

	require.NoError(t, e.ResetQuiz())
	a := e.Attempt()
	require.Zero(t, a.CurrentIndex)
	require.Zero(t, a.Score)
	require.Zero(t, a.CorrectCount)
	require.Empty(t, a.Answers)
	require.Empty(t, a.Selected)
	require.False(t, a.Finished)
	require.False(t, a.Review)
	require.Zero(t, gw.calls["UpdateUserProgress"])
}

func TestFinalizeWithoutQuizID(t *testing.T) {
	gw := newFakeGateway()
	b := defaultBank(t)
	e := New(b, gw)
	// A resolved gate whose quiz id was cleared still finishes locally.
	e.state = State{
		User: gw.addUser("taro", "pw"),
		Gate: AuthGate{Step: StepResolved},
	}
	for i := 0; i < b.Len(); i++ {
		q, _ := b.Question(i)
		answerCurrent(t, e, q.Answer)
	}
	require.True(t, e.Attempt().Finished)
	require.Zero(t, gw.calls["UpdateUserProgress"])
}

func TestFinalizeSaveError(t *testing.T) {
	e, gw := signedIn(t, Params{})
	gw.updateErr = errors.New("disk full")
	b := defaultBank(t)
	for i := 0; i < b.Len(); i++ {
		q, _ := b.Question(i)
		answerCurrent(t, e, q.Answer)
	}
	require.True(t, e.Attempt().Finished)
	require.Equal(t, 1, gw.calls["UpdateUserProgress"])
	require.Contains(t, e.SaveError(), "disk full")
}

func TestReviewMode(t *testing.T) {
	gw := newFakeGateway()
	u := gw.addUser("taro", "pw")
	gw.current = u
	b := defaultBank(t)

	answers := make([]string, b.Len())
	want := 0
	for i := range answers {
		q, _ := b.Question(i)
		answers[i] = q.Answer
		if i%5 == 1 {
			answers[i] = "salah"
		}
	}
	answers[0], answers[1] = "neko", "inu"
	for i, a := range answers {
		q, _ := b.Question(i)
		if q.IsCorrect(a) {
			want++
		}
	}
	u.ApplyProgress(80, "soal1", answers, time.Now())

	e := New(b, gw)
	e.Init(context.Background(), Params{QuizID: "soal1", Mode: ModeReview})

	a := e.Attempt()
	require.True(t, a.Finished)
	require.True(t, a.Review)
	require.Equal(t, 80, a.RoundedScore())
	require.Equal(t, want, a.CorrectCount)
	require.Equal(t, answers, a.Answers)
	require.Equal(t, b.Len()-1, a.CurrentIndex)
	require.False(t, e.CanSubmit())
	require.ErrorIs(t, e.SubmitAnswer(context.Background()), ErrCannotSubmit)
	require.ErrorIs(t, e.SelectAnswer("neko"), ErrCannotSubmit)
	require.Zero(t, gw.calls["UpdateUserProgress"])
}

func TestReviewWithoutDetailStartsFresh(t *testing.T) {
	gw := newFakeGateway()
	u := gw.addUser("taro", "pw")
	u.ApplyProgress(80, "soal1", []string{"neko"}, time.Now())
	gw.current = u

	e := New(defaultBank(t), gw)
	e.Init(context.Background(), Params{QuizID: "soal2", Mode: ModeReview})

	a := e.Attempt()
	require.Equal(t, "soal2", e.QuizID())
	require.False(t, a.Finished)
	require.False(t, a.Review)
	require.Empty(t, a.Answers)
	require.Zero(t, a.CurrentIndex)
}

func TestReviewAfterSignIn(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	u := gw.addUser("taro", "pw")
	u.ApplyProgress(60, "soal1", []string{"neko"}, time.Now())

	e := New(defaultBank(t), gw)
	e.Init(ctx, Params{Mode: ModeReview})
	require.False(t, e.Attempt().Review)

	require.NoError(t, e.CheckUsername(ctx, "taro"))
	require.True(t, e.Attempt().Review)
	require.Equal(t, 60, e.Attempt().RoundedScore())
}

func TestRestoreState(t *testing.T) {
	e, gw := signedIn(t, Params{QuizID: "soal3"})
	answerCurrent(t, e, "neko")

	r := Restore(defaultBank(t), gw, e.State())
	require.Equal(t, "soal3", r.QuizID())
	require.Equal(t, 1, r.Attempt().CurrentIndex)
	require.True(t, r.IsCorrect(0))
}
