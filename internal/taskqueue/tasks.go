// Package taskqueue runs ruleset evaluations through asynq workers.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"assetrules/internal/db"
	"assetrules/internal/engine"
	"assetrules/internal/models"
)

const TypeEvaluateRuleset = "ruleset:evaluate"

// EvaluationPayload is the task body for one ruleset evaluation.
type EvaluationPayload struct {
	RulesetID int64          `json:"rulesetId"`
	Trigger   engine.Trigger `json:"trigger"`
}

// Queue is the producer side.
type Queue struct {
	client *asynq.Client
	log    *zap.SugaredLogger
}

func NewQueue(redisAddr string, log *zap.SugaredLogger) *Queue {
	return &Queue{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		log:    log.Named("taskqueue"),
	}
}

// EnqueueEvaluation schedules an evaluation of one ruleset.
func (q *Queue) EnqueueEvaluation(rulesetID int64, trigger engine.Trigger) error {
	payload, err := json.Marshal(EvaluationPayload{RulesetID: rulesetID, Trigger: trigger})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeEvaluateRuleset, payload)
	info, err := q.client.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("enqueue evaluation for ruleset %d: %w", rulesetID, err)
	}
	q.log.Debugw("evaluation enqueued", "task", info.ID, "ruleset", rulesetID)
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Deps are the collaborators an evaluation task needs.
type Deps struct {
	DB        *db.DB
	Evaluator *engine.Evaluator
	Executor  *engine.Executor
	Log       *zap.SugaredLogger
}

// handleEvaluation fetches the ruleset, evaluates it, and executes the
// actions of every fired rule. Structural failures (bad body, bad validity
// meta) are recorded on the ruleset and not retried.
func handleEvaluation(deps Deps) asynq.HandlerFunc {
	log := deps.Log.Named("taskqueue")
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EvaluationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}

		rs, err := deps.DB.RulesetByID(ctx, payload.RulesetID)
		if errors.Is(err, db.ErrNotFound) {
			log.Debugw("ruleset vanished before evaluation", "ruleset", payload.RulesetID)
			return nil
		}
		if err != nil {
			return err
		}
		if !rs.Enabled || rs.Lang != models.LangJSON {
			return nil
		}

		fired, err := deps.Evaluator.EvaluateRuleset(ctx, rs, payload.Trigger, time.Now())
		if err != nil {
			log.Errorw("evaluation failed", "ruleset", rs.ID, "err", err)
			if dbErr := deps.DB.SetRulesetStatus(ctx, rs.ID, models.StatusError, err.Error()); dbErr != nil {
				log.Errorw("status update failed", "ruleset", rs.ID, "err", dbErr)
			}
			return fmt.Errorf("evaluate ruleset %d: %v: %w", rs.ID, err, asynq.SkipRetry)
		}

		if rs.Status != models.StatusDeployed {
			if err := deps.DB.SetRulesetStatus(ctx, rs.ID, models.StatusDeployed, ""); err != nil {
				log.Errorw("status update failed", "ruleset", rs.ID, "err", err)
			}
		}

		for _, rule := range fired {
			log.Infow("rule fired", "ruleset", rs.ID, "rule", rule.Name)
			if err := deps.Executor.ExecuteActions(ctx, rs.Realm, rule.Name, rule.MatchedAssets, rule.Then); err != nil {
				return err
			}
		}
		return nil
	}
}
