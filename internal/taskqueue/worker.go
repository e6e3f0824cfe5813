package taskqueue

import (
	"github.com/hibiken/asynq"
)

// Worker is the consumer side of the evaluation queue.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewWorker(redisAddr string, deps Deps) *Worker {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEvaluateRuleset, handleEvaluation(deps))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{Concurrency: 10},
	)
	return &Worker{srv: srv, mux: mux}
}

// Run blocks processing tasks until Shutdown.
func (w *Worker) Run() error {
	return w.srv.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}
