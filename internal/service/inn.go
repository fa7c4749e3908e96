package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inn_service/internal/client"
	"inn_service/internal/model"
	"inn_service/internal/repository"
)

type InnService interface {
	GetClientINN(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error)
}

type innService struct {
	client client.NalogClient
	repo   repository.RequestRepository
	logger *zap.Logger
}

func NewInnService(nalogClient client.NalogClient, repo repository.RequestRepository, logger *zap.Logger) InnService {
	return &innService{
		client: nalogClient,
		repo:   repo,
		logger: logger,
	}
}

// GetClientINN resolves the tax id for a client request. A prior record
// matching the passport number or the request id short-circuits the external
// call; otherwise the nalog api is queried and the outcome, successful or
// soft-failed, is persisted exactly once. Elapsed time for cached hits is
// measured from this call, not from the original record.
func (s *innService) GetClientINN(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error) {
	start := time.Now()
	passportNum := model.PassportNumber(req.DocumentSerial, req.DocumentNumber)

	existing, err := s.repo.FindClientData(ctx, passportNum, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing record: %w", err)
	}
	if existing != nil {
		s.logger.Info("client data served from storage",
			zap.String("request_id", req.RequestID))
		return &model.ResultDTO{
			RequestID:   req.RequestID,
			INN:         existing.INN,
			Cached:      true,
			ElapsedTime: time.Since(start).Seconds(),
		}, nil
	}

	record := model.NewClientRecord(req)
	nalogReq := model.NewNalogRequest(req)

	inn, err := s.client.ResolveINN(ctx, nalogReq)
	var details string
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			// Не классифицированная ошибка — фатальна для сообщения.
			return nil, err
		}
		s.logger.Error("error request to nalog api service",
			zap.String("request_id", req.RequestID), zap.Error(err))
		details = err.Error()
		inn = ""
	}

	record.SetResult(inn, details)
	if _, err := s.repo.SaveClientData(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist client record: %w", err)
	}

	return &model.ResultDTO{
		RequestID:   record.RequestID,
		INN:         record.INN,
		Details:     record.Error,
		ElapsedTime: record.ElapsedTime(),
	}, nil
}
