package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeUsagePrune = "usage:prune"
)

type UsagePrunePayload struct{}

func NewUsagePruneTask(opts ...asynq.Option) (*asynq.Task, error) {
	payload := UsagePrunePayload{}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	uniqueOpt := asynq.Unique(1 * time.Hour)
	allOpts := append(opts, uniqueOpt)

	return asynq.NewTask(TypeUsagePrune, payloadBytes, allOpts...), nil
}
