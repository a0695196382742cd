package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	redisrepo "fundarb/internal/infrastructure/storage/redis"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Scanner 机会扫描
type Scanner interface {
	FindOpportunities(ctx context.Context, filter service.OpportunityFilter) ([]model.ArbitrageOpportunity, error)
	FindBest(ctx context.Context, filter service.OpportunityFilter) (model.ArbitrageOpportunity, bool, error)
}

// PositionReader 只读持仓查询
type PositionReader interface {
	GetOpenPositions(ctx context.Context) ([]model.Position, error)
	Get(ctx context.Context, id string) (model.Position, bool, error)
	ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error)
	GetPortfolioSummary(ctx context.Context) (model.PortfolioSummary, error)
}

// ExchangeLister 交易所健康状态来源
type ExchangeLister interface {
	ListExchanges(ctx context.Context, activeOnly bool) ([]model.Exchange, error)
}

// LiveRates redis 中的最新费率镜像
type LiveRates interface {
	LatestRates(ctx context.Context) ([]redisrepo.LatestRate, error)
}

type Config struct {
	Addr      string
	Scanner   Scanner
	Positions PositionReader
	Exchanges ExchangeLister
	Quotes    port.SnapshotRepository
	Live      LiveRates // 可为 nil
	// MaxConsecutiveErrors 超过该值的活跃交易所视为不健康
	MaxConsecutiveErrors int
}

// Server 提供 metrics、健康检查与只读 JSON 接口
type Server struct {
	cfg    Config
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	s := &Server{cfg: cfg}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/opportunities", s.handleOpportunities)
		r.Get("/opportunities/best", s.handleBest)
		r.Get("/quotes", s.handleQuotes)
		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{id}", s.handlePosition)
		r.Get("/positions/{id}/payments", s.handlePayments)
		r.Get("/summary", s.handleSummary)
		if s.cfg.Live != nil {
			r.Get("/rates/live", s.handleLiveRates)
		}
	})
	return r
}

// Start 阻塞直到服务停止
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

type exchangeHealth struct {
	Name                string     `json:"name"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveErrors   int        `json:"consecutive_errors"`
	LastSuccessfulFetch *time.Time `json:"last_successful_fetch,omitempty"`
	LastError           *time.Time `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	exchanges, err := s.cfg.Exchanges.ListExchanges(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	out := make([]exchangeHealth, 0, len(exchanges))
	for _, ex := range exchanges {
		h := exchangeHealth{
			Name:                ex.Name,
			Healthy:             ex.ConsecutiveErrors < s.cfg.MaxConsecutiveErrors,
			ConsecutiveErrors:   ex.ConsecutiveErrors,
			LastSuccessfulFetch: ex.LastSuccessfulFetch,
			LastError:           ex.LastError,
		}
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		out = append(out, h)
	}
	writeJSON(w, status, map[string]interface{}{
		"ok":        status == http.StatusOK,
		"exchanges": out,
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	opps, err := s.cfg.Scanner.FindOpportunities(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(opps),
		"opportunities": opps,
	})
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	best, ok, err := s.cfg.Scanner.FindBest(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("opportunity: %w", model.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quotes, err := s.cfg.Quotes.LatestQuotes(r.Context(), port.QuoteQuery{
		Symbols:          splitList(q, "symbols"),
		Exchanges:        splitList(q, "exchanges"),
		ExcludeExchanges: splitList(q, "exclude"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.cfg.Positions.GetOpenPositions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok, err := s.cfg.Positions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("position %s: %w", id, model.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	pays, err := s.cfg.Positions.ListFundingPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pays)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.cfg.Positions.GetPortfolioSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLiveRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.cfg.Live.LatestRates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidFilter), errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
