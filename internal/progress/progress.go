package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"annoline/internal/clock"
	"annoline/internal/config"
	"annoline/internal/logging"
	"annoline/internal/repo"
)

type Status string

const (
	StatusFirstDay Status = "first_day"
	StatusAhead    Status = "ahead"
	StatusOnTrack  Status = "on_track"
	StatusBehind   Status = "behind"
)

// Evaluation is the schedule math for one annotator on one day.
type Evaluation struct {
	DaysPassed        int    `json:"days_passed"`
	Expected          int    `json:"expected_annotations"`
	ExpectedYesterday int    `json:"expected_annotations_yesterday"`
	Delta             int    `json:"delta"`
	Status            Status `json:"status" enum:"first_day,ahead,on_track,behind"`
	Message           string `json:"message"`
}

// Evaluate compares total against min(days*daily, total_target). Day zero is
// always first_day whatever has been annotated.
func Evaluate(s config.Schedule, daysPassed, total int) Evaluation {
	if daysPassed < 0 {
		daysPassed = 0
	}
	ev := Evaluation{
		DaysPassed:        daysPassed,
		Expected:          expected(s, daysPassed),
		ExpectedYesterday: expected(s, daysPassed-1),
	}
	ev.Delta = total - ev.Expected
	switch {
	case daysPassed == 0:
		ev.Status = StatusFirstDay
		ev.Message = fmt.Sprintf("First day: aim for %d annotations today.", s.DailyTarget)
	case ev.Delta > 0:
		ev.Status = StatusAhead
		ev.Message = fmt.Sprintf("Great work: %d days in, %d annotated, %d above the expected count.", daysPassed, total, ev.Delta)
	case ev.Delta == 0:
		ev.Status = StatusOnTrack
		ev.Message = fmt.Sprintf("On track: %d days in, %d annotated.", daysPassed, total)
	default:
		ev.Status = StatusBehind
		ev.Message = fmt.Sprintf("Behind by %d: raise the daily rate to cover the backlog plus today's target. %d days in, %d annotated.", -ev.Delta, daysPassed, total)
	}
	return ev
}

func expected(s config.Schedule, days int) int {
	if days < 0 {
		days = 0
	}
	return min(days*s.DailyTarget, s.TotalTarget)
}

// DailyFraction is today's share of the daily target, capped at 1.
func DailyFraction(daily, target int) float64 {
	if target <= 0 {
		return 1
	}
	return min(float64(daily)/float64(target), 1)
}

type Report struct {
	AnnotatorID   string  `json:"annotator_id"`
	Cohort        string  `json:"cohort"`
	Date          string  `json:"date"`
	Daily         int     `json:"daily_annotated"`
	Total         int     `json:"total_annotated"`
	DailyTarget   int     `json:"daily_target"`
	TotalTarget   int     `json:"total_target"`
	DailyFraction float64 `json:"daily_fraction"`
	Evaluation
}

type Tracker struct {
	Repo   repo.Repo
	Config *config.Config
	Clock  clock.Clock
	Logger *zap.Logger
}

// Report counts the annotator's annotations for today and overall and
// evaluates them against their schedule.
func (t Tracker) Report(ctx context.Context, annotatorID string) (Report, error) {
	if t.Config == nil {
		return Report{}, fmt.Errorf("config not loaded")
	}
	s, err := t.Config.ScheduleFor(annotatorID)
	if err != nil {
		return Report{}, err
	}
	today := t.Clock.Today()
	daily, err := t.Repo.CountAnnotations(ctx, annotatorID, today)
	if err != nil {
		return Report{}, fmt.Errorf("daily count: %w", err)
	}
	total, err := t.Repo.CountAnnotations(ctx, annotatorID, "")
	if err != nil {
		return Report{}, fmt.Errorf("total count: %w", err)
	}
	return Report{
		AnnotatorID:   annotatorID,
		Cohort:        s.Cohort,
		Date:          today,
		Daily:         daily,
		Total:         total,
		DailyTarget:   s.DailyTarget,
		TotalTarget:   s.TotalTarget,
		DailyFraction: DailyFraction(daily, s.DailyTarget),
		Evaluation:    Evaluate(s, t.Clock.DaysSince(s.StartDate), total),
	}, nil
}

// All reports on every configured annotator.
func (t Tracker) All(ctx context.Context) ([]Report, error) {
	if t.Config == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	var out []Report
	for _, id := range t.Config.AnnotatorIDs() {
		r, err := t.Report(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DailyReport logs the roster's standing. It is the body of the midnight
// cron job started by serve.
func (t Tracker) DailyReport(ctx context.Context) {
	log := logging.OrNop(t.Logger)
	reports, err := t.All(ctx)
	if err != nil {
		log.Error("daily progress report failed", zap.Error(err))
		return
	}
	for _, r := range reports {
		log.Info("daily progress",
			logging.Annotator(r.AnnotatorID),
			zap.String("cohort", r.Cohort),
			zap.Int("daily", r.Daily),
			zap.Int("total", r.Total),
			zap.Int("expected", r.Expected),
			zap.String("status", string(r.Status)),
		)
	}
}
