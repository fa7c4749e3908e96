package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"inn_service/internal/config"
	"inn_service/internal/model"
)

// NoINN is returned when the person has no tax id registered.
const NoINN = "no inn"

// APIError is a transient nalog.ru failure: bad status, captcha gate or an
// unparseable response. It belongs to the retriable set and, once retries are
// exhausted, is recorded on the client record as a soft failure.
type APIError struct {
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

// Браузерные User-Agent, выбираются случайно на каждый запрос.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

type NalogClient interface {
	ResolveINN(ctx context.Context, req *model.NalogRequest) (string, error)
}

type nalogClient struct {
	url       string
	timeout   time.Duration
	retries   int
	retryWait time.Duration
	logger    *zap.Logger
}

func NewNalogClient(cfg config.NalogConfig, logger *zap.Logger) NalogClient {
	return &nalogClient{
		url:       cfg.URL,
		timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
		retries:   cfg.Retries,
		retryWait: time.Duration(cfg.RetryWaitSec) * time.Second,
		logger:    logger,
	}
}

type nalogResponse struct {
	Code            *int   `json:"code"`
	CaptchaRequired bool   `json:"captchaRequired"`
	INN             string `json:"inn"`
}

// ResolveINN posts the lookup form to nalog.ru, retrying transient failures up
// to the configured number of attempts with a fixed wait between them. Any
// non-transient error aborts immediately.
func (c *nalogClient) ResolveINN(ctx context.Context, req *model.NalogRequest) (string, error) {
	c.logger.Debug("request to nalog api service", zap.String("client", req.FullName()))

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		inn, err := c.doRequest(ctx, req)
		if err == nil {
			return inn, nil
		}
		if !isTransient(err) {
			c.logger.Error("call http query error",
				zap.Error(err), zap.Int("attempt", attempt), zap.Bool("retriable", false))
			return "", err
		}

		c.logger.Error("call http query error",
			zap.Error(err), zap.Int("attempt", attempt), zap.Bool("retriable", true))
		lastErr = err

		select {
		case <-time.After(c.retryWait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", lastErr
}

func (c *nalogClient) doRequest(ctx context.Context, req *model.NalogRequest) (string, error) {
	// Отдельное соединение на каждый запрос, без переиспользования.
	transport := &http.Transport{DisableKeepAlives: true}
	defer transport.CloseIdleConnections()

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url,
		strings.NewReader(req.FormData().Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build nalog api request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("nalog api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return "", &APIError{Detail: string(body)}
	}

	var data nalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("failed to decode nalog api response: %w", err)
	}

	if data.CaptchaRequired {
		return "", &APIError{Detail: fmt.Sprintf("captcha required for request %s", req.FullName())}
	}

	switch {
	case data.Code != nil && *data.Code == 0:
		return NoINN, nil
	case data.Code != nil && *data.Code == 1:
		return data.INN, nil
	default:
		return "", &APIError{Detail: fmt.Sprintf("unable to parse response for request %s", req.FullName())}
	}
}

func (c *nalogClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "ru-RU,ru")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Origin", "https://service.nalog.ru")
	req.Header.Set("Referer", "https://service.nalog.ru/inn.do")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-GPC", "1")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
}

// isTransient reports whether the error belongs to the retriable set: the api
// failure kind, timeouts and connection-establishment errors.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
