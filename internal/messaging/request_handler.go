package messaging

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"inn_service/internal/config"
	"inn_service/internal/model"
	"inn_service/internal/service"
)

// RequestHandler consumes identity-lookup requests and replies with the
// resolution result.
type RequestHandler struct {
	service     service.InnService
	publisher   Publisher
	sourceQueue string
	maxRetries  int
	retryTTL    time.Duration
	logger      *zap.Logger
}

func NewRequestHandler(innService service.InnService, publisher Publisher, cfg config.RabbitConfig, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		service:     innService,
		publisher:   publisher,
		sourceQueue: cfg.SourceQueue,
		maxRetries:  cfg.RetryMax,
		retryTTL:    time.Duration(cfg.RetryTTLSec) * time.Second,
		logger:      logger,
	}
}

func (h *RequestHandler) Name() string {
	return "RequestHandler"
}

func (h *RequestHandler) SourceQueue() string {
	return h.sourceQueue
}

func (h *RequestHandler) UseRetry() bool {
	return true
}

func (h *RequestHandler) RetryTTL() time.Duration {
	return h.retryTTL
}

// ErrorResponse builds the full-DTO reply shape used for validation failures.
func (h *RequestHandler) ErrorResponse(requestID, detail string) any {
	return &model.ResultDTO{
		RequestID: requestID,
		Details:   detail,
	}
}

func (h *RequestHandler) Run(ctx context.Context, body []byte, requestID, replyQueue string, retryCount int) (bool, error) {
	if retryCount > h.maxRetries {
		h.logger.Warn("request rejected by excess attempts",
			zap.String("request_id", requestID), zap.Int("max_retries", h.maxRetries))
		return true, nil
	}

	if requestID == "" {
		return false, ErrNoRequestID
	}

	var req model.ClientRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return false, &model.ValidationError{Detail: err.Error()}
	}
	if err := req.Validate(); err != nil {
		return false, err
	}

	h.logger.Info("processing request",
		zap.String("request_id", requestID), zap.String("reply_to", replyQueue))

	response, err := h.service.GetClientINN(ctx, &req)
	if err != nil {
		return false, err
	}

	if replyQueue != "" {
		if err := h.publisher.Publish(ctx, response, replyQueue); err != nil {
			return false, err
		}
	}

	return true, nil
}
