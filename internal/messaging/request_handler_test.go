package messaging

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"inn_service/internal/config"
	"inn_service/internal/model"
)

// Mock для InnService
type mockInnService struct {
	getClientINNFunc func(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error)
	calls            int
}

func (m *mockInnService) GetClientINN(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error) {
	m.calls++
	if m.getClientINNFunc != nil {
		return m.getClientINNFunc(ctx, req)
	}
	return &model.ResultDTO{RequestID: req.RequestID}, nil
}

const validBody = `{
	"requestId": "req-1",
	"firstName": "Иван",
	"lastName": "Иванов",
	"middleName": "Иванович",
	"birthDate": "1985-03-12",
	"documentSerial": "1234",
	"documentNumber": "567890",
	"documentDate": "2005-07-01"
}`

func newTestRequestHandler(t *testing.T, svc *mockInnService, publisher *mockPublisher) *RequestHandler {
	t.Helper()
	return NewRequestHandler(svc, publisher, config.RabbitConfig{
		SourceQueue: "request-inn",
		RetryMax:    3,
		RetryTTLSec: 60,
	}, zaptest.NewLogger(t))
}

func TestRequestHandlerRun(t *testing.T) {
	tests := []struct {
		name                string
		body                string
		requestID           string
		replyQueue          string
		retryCount          int
		serviceFunc         func(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error)
		expectedProcessed   bool
		expectedError       bool
		expectedValidation  bool
		expectedNoRequestID bool
		expectedCalls       int
		expectedReplies     int
	}{
		{
			name:              "successful_processing_with_reply",
			body:              validBody,
			requestID:         "req-1",
			replyQueue:        "result-queue",
			expectedProcessed: true,
			expectedCalls:     1,
			expectedReplies:   1,
		},
		{
			name:              "successful_processing_without_reply",
			body:              validBody,
			requestID:         "req-1",
			expectedProcessed: true,
			expectedCalls:     1,
			expectedReplies:   0,
		},
		{
			name:              "retry_exhausted_dropped_without_service_call",
			body:              validBody,
			requestID:         "req-1",
			retryCount:        4,
			expectedProcessed: true,
			expectedCalls:     0,
		},
		{
			name:              "retry_at_limit_still_processed",
			body:              validBody,
			requestID:         "req-1",
			retryCount:        3,
			expectedProcessed: true,
			expectedCalls:     1,
		},
		{
			name:                "missing_request_id_is_handler_fault",
			body:                validBody,
			requestID:           "",
			expectedError:       true,
			expectedNoRequestID: true,
		},
		{
			name:               "schema_mismatch_is_validation_error",
			body:               `{"requestId":"req-1","birthDate":12}`,
			requestID:          "req-1",
			expectedError:      true,
			expectedValidation: true,
		},
		{
			name:               "unparseable_date_is_validation_error",
			body:               `{"requestId":"req-1","birthDate":"tomorrow","documentDate":"2005-07-01"}`,
			requestID:          "req-1",
			expectedError:      true,
			expectedValidation: true,
		},
		{
			name:       "service_error_propagates",
			body:       validBody,
			requestID:  "req-1",
			replyQueue: "result-queue",
			serviceFunc: func(ctx context.Context, req *model.ClientRequest) (*model.ResultDTO, error) {
				return nil, errors.New("failed to persist client record")
			},
			expectedError: true,
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInnService{getClientINNFunc: tt.serviceFunc}
			publisher := &mockPublisher{}
			h := newTestRequestHandler(t, svc, publisher)

			processed, err := h.Run(context.Background(), []byte(tt.body), tt.requestID, tt.replyQueue, tt.retryCount)

			if tt.expectedError {
				if err == nil {
					t.Fatal("expected error, but got nil")
				}
				if tt.expectedValidation {
					var validationErr *model.ValidationError
					if !errors.As(err, &validationErr) {
						t.Errorf("expected validation error, got %T: %v", err, err)
					}
				}
				if tt.expectedNoRequestID && !errors.Is(err, ErrNoRequestID) {
					t.Errorf("expected ErrNoRequestID, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if processed != tt.expectedProcessed {
					t.Errorf("expected processed=%v, got %v", tt.expectedProcessed, processed)
				}
			}

			if svc.calls != tt.expectedCalls {
				t.Errorf("expected %d service calls, got %d", tt.expectedCalls, svc.calls)
			}
			if len(publisher.published) != tt.expectedReplies {
				t.Errorf("expected %d replies, got %d", tt.expectedReplies, len(publisher.published))
			}
			if tt.expectedReplies > 0 && publisher.published[0].queue != tt.replyQueue {
				t.Errorf("expected reply to %q, got %q", tt.replyQueue, publisher.published[0].queue)
			}
		})
	}
}

func TestRequestHandlerPublishErrorPropagates(t *testing.T) {
	svc := &mockInnService{}
	publisher := &mockPublisher{
		publishFunc: func(ctx context.Context, document any, queueName string) error {
			return errors.New("channel closed")
		},
	}
	h := newTestRequestHandler(t, svc, publisher)

	_, err := h.Run(context.Background(), []byte(validBody), "req-1", "result-queue", 0)
	if err == nil {
		t.Fatal("expected publish error to propagate")
	}
}

func TestRequestHandlerErrorResponse(t *testing.T) {
	h := newTestRequestHandler(t, &mockInnService{}, &mockPublisher{})

	resp := h.ErrorResponse("req-1", "request body content error: birthDate is missing")
	dto, ok := resp.(*model.ResultDTO)
	if !ok {
		t.Fatalf("expected *model.ResultDTO, got %T", resp)
	}
	if dto.RequestID != "req-1" || dto.INN != "" {
		t.Errorf("unexpected error response: %+v", dto)
	}
	if dto.Details == "" || dto.ElapsedTime != 0 {
		t.Errorf("unexpected error response: %+v", dto)
	}
}

func TestRequestHandlerQueueSettings(t *testing.T) {
	h := newTestRequestHandler(t, &mockInnService{}, &mockPublisher{})

	if h.SourceQueue() != "request-inn" {
		t.Errorf("expected source queue 'request-inn', got %q", h.SourceQueue())
	}
	if !h.UseRetry() {
		t.Error("expected retry ring to be enabled")
	}
	if h.RetryTTL().Seconds() != 60 {
		t.Errorf("expected retry TTL 60s, got %v", h.RetryTTL())
	}
	if h.Name() != "RequestHandler" {
		t.Errorf("unexpected handler name %q", h.Name())
	}
}
