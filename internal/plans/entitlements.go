package plans

import "slices"

// Usage is the counter snapshot entitlements are computed from.
// MessagesSentToday must already reflect the daily reset.
type Usage struct {
	MessagesSentToday int
	QuizzesCreated    int
}

// Entitlements is what a user may do right now.
type Entitlements struct {
	Tier              Tier     `json:"tier"`
	CanSendMessage    bool     `json:"can_send_message"`
	CanCreateQuiz     bool     `json:"can_create_quiz"`
	RemainingMessages int      `json:"remaining_messages"`
	RemainingQuizzes  int      `json:"remaining_quizzes"`
	MaxDailyMessages  int      `json:"max_daily_messages"`
	MaxQuizzes        int      `json:"max_quizzes"`
	AllowedCategories []string `json:"allowed_categories"`
}

// Resolve derives entitlements for tier given usage. Remaining counts are
// Unlimited for unlimited tiers and never negative otherwise.
func Resolve(tier Tier, u Usage) Entitlements {
	l := For(tier)
	return Entitlements{
		Tier:              l.Tier,
		CanSendMessage:    under(u.MessagesSentToday, l.MaxDailyMessages),
		CanCreateQuiz:     under(u.QuizzesCreated, l.MaxQuizzes),
		RemainingMessages: remaining(u.MessagesSentToday, l.MaxDailyMessages),
		RemainingQuizzes:  remaining(u.QuizzesCreated, l.MaxQuizzes),
		MaxDailyMessages:  l.MaxDailyMessages,
		MaxQuizzes:        l.MaxQuizzes,
		AllowedCategories: l.AllowedCategories,
	}
}

// IsCategoryAllowed is a set-membership check against the tier's allow-list.
func (e Entitlements) IsCategoryAllowed(category string) bool {
	return slices.Contains(e.AllowedCategories, category)
}

func under(used, max int) bool {
	return max == Unlimited || used < max
}

func remaining(used, max int) int {
	if max == Unlimited {
		return Unlimited
	}
	if used >= max {
		return 0
	}
	return max - used
}
