package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/service/metering"
)

type UsagePruneHandler struct {
	metering *metering.Service
	logger   *zap.Logger
}

func NewUsagePruneHandler(metering *metering.Service, logger *zap.Logger) *UsagePruneHandler {
	return &UsagePruneHandler{
		metering: metering,
		logger:   logger.Named("UsagePruneHandler"),
	}
}

func (h *UsagePruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeUsagePrune {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p UsagePrunePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for usage prune task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	h.logger.Info("Processing usage log retention task...")

	deleted, err := h.metering.Prune(ctx)
	if err != nil {
		h.logger.Error("Usage log retention task failed", zap.Error(err))
		return fmt.Errorf("failed to prune usage logs: %w", err)
	}

	h.logger.Info("Usage log retention task finished", zap.Int64("deleted_rows", deleted))
	return nil
}
