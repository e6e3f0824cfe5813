// Package scheduler drives time-based rule triggers: cron and duration timer
// conditions extracted from rule bodies, plus a periodic sweep that reacts to
// validity windows opening and closing.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"assetrules/internal/db"
	"assetrules/internal/engine"
	"assetrules/internal/models"
	"assetrules/internal/rules"
	"assetrules/internal/validity"
)

const sweepSpec = "@every 1m"

// Scheduler manages the cron jobs of every enabled JSON ruleset.
type Scheduler struct {
	cron  *cron.Cron
	db    *db.DB
	queue engine.Enqueuer
	log   *zap.SugaredLogger

	mu         sync.Mutex
	jobs       map[int64][]cron.EntryID
	lastActive map[int64]bool
}

func New(database *db.DB, queue engine.Enqueuer, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		db:         database,
		queue:      queue,
		log:        log.Named("scheduler"),
		jobs:       make(map[int64][]cron.EntryID),
		lastActive: make(map[int64]bool),
	}
}

// Start begins the cron loop and installs the validity sweep.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(sweepSpec, s.sweepValidity); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

// Stop stops the cron loop, waiting for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// LoadSchedules installs timer jobs for every enabled JSON ruleset.
func (s *Scheduler) LoadSchedules(ctx context.Context) error {
	rulesets, err := s.db.EnabledJSONRulesets(ctx)
	if err != nil {
		return err
	}
	for i := range rulesets {
		if err := s.scheduleRuleset(&rulesets[i]); err != nil {
			s.log.Warnw("skipping ruleset timers", "ruleset", rulesets[i].ID, "err", err)
		}
	}
	s.log.Infow("schedules loaded", "rulesets", len(rulesets))
	return nil
}

// ReloadRuleset replaces the timer jobs of one ruleset after an edit.
func (s *Scheduler) ReloadRuleset(ctx context.Context, rulesetID int64) error {
	s.RemoveRuleset(rulesetID)
	rs, err := s.db.RulesetByID(ctx, rulesetID)
	if err != nil {
		return err
	}
	if !rs.Enabled || rs.Lang != models.LangJSON {
		return nil
	}
	return s.scheduleRuleset(rs)
}

// RemoveRuleset drops the timer jobs of a deleted or disabled ruleset.
func (s *Scheduler) RemoveRuleset(rulesetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.jobs[rulesetID] {
		s.cron.Remove(id)
	}
	delete(s.jobs, rulesetID)
	delete(s.lastActive, rulesetID)
}

func (s *Scheduler) scheduleRuleset(rs *models.Ruleset) error {
	body, err := rules.ParseRuleBody(rs.Rules)
	if err != nil {
		return err
	}

	rulesetID := rs.ID
	var entries []cron.EntryID
	for _, rule := range body.Rules {
		for _, timer := range rules.TimerExpressions(rule.When) {
			spec, err := CronSpec(timer)
			if err != nil {
				s.log.Warnw("unschedulable timer", "ruleset", rulesetID, "timer", timer, "err", err)
				continue
			}
			expr := timer
			id, err := s.cron.AddFunc(spec, func() {
				if err := s.queue.EnqueueEvaluation(rulesetID, engine.Trigger{Timer: expr}); err != nil {
					s.log.Errorw("timer enqueue failed", "ruleset", rulesetID, "timer", expr, "err", err)
				}
			})
			if err != nil {
				s.log.Warnw("cron rejects timer", "ruleset", rulesetID, "timer", timer, "err", err)
				continue
			}
			entries = append(entries, id)
		}
	}

	s.mu.Lock()
	s.jobs[rulesetID] = entries
	s.mu.Unlock()
	s.log.Debugw("ruleset scheduled", "ruleset", rulesetID, "timers", len(entries))
	return nil
}

// sweepValidity re-enqueues rulesets whose validity window just opened or
// closed, so attribute-quiet rulesets still react to their calendar.
func (s *Scheduler) sweepValidity() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rulesets, err := s.db.EnabledJSONRulesets(ctx)
	if err != nil {
		s.log.Errorw("validity sweep query failed", "err", err)
		return
	}

	now := time.Now()
	for i := range rulesets {
		rs := &rulesets[i]
		event, err := rs.Validity()
		if err != nil || event == nil {
			continue
		}
		window, err := validity.NewWindow(*event)
		if err != nil {
			continue
		}
		active := window.IsActive(now)

		s.mu.Lock()
		prev, seen := s.lastActive[rs.ID]
		s.lastActive[rs.ID] = active
		s.mu.Unlock()

		if seen && prev == active {
			continue
		}
		s.log.Infow("validity window changed", "ruleset", rs.ID, "active", active)
		if active {
			if err := s.queue.EnqueueEvaluation(rs.ID, engine.Trigger{}); err != nil {
				s.log.Errorw("validity enqueue failed", "ruleset", rs.ID, "err", err)
			}
		}
	}
}

// CronSpec converts a timer expression to a cron spec: cron expressions pass
// through, ISO-8601 durations become @every intervals.
func CronSpec(timer string) (string, error) {
	if !strings.HasPrefix(timer, "P") {
		return timer, nil
	}
	d, err := ParseISODuration(timer)
	if err != nil {
		return "", err
	}
	return "@every " + d.String(), nil
}

var isoDurationParts = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts the week/day/time subset of ISO-8601 durations
// to a time.Duration. Calendar units (years, months) have no fixed length
// and are rejected.
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationParts.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("unsupported duration %q", s)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, err
		}
		total += time.Duration(n) * unit
	}
	if total == 0 {
		return 0, fmt.Errorf("zero duration %q", s)
	}
	return total, nil
}
