package health

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Probe is a liveness check of one external dependency. Providers are listed
// explicitly at wiring time.
type Probe interface {
	Name() string
	IsConnected(ctx context.Context) bool
}

type Service struct {
	probes []Probe
	logger *zap.Logger
}

func NewService(logger *zap.Logger, probes ...Probe) *Service {
	return &Service{
		probes: probes,
		logger: logger,
	}
}

// Healthy reports whether every registered dependency is up.
func (s *Service) Healthy(ctx context.Context) bool {
	healthy := true
	for _, probe := range s.probes {
		if !probe.IsConnected(ctx) {
			s.logger.Error("service is down", zap.String("service", probe.Name()))
			healthy = false
		}
	}
	return healthy
}

func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Healthy(r.Context()) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
