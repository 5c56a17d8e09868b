package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"MomentumSentinel/internal/metrics"
	"MomentumSentinel/internal/recorder"
	"MomentumSentinel/internal/scheduler"
)

// StatusSource reports the daemon state.
type StatusSource interface {
	Status() scheduler.Status
}

// Server is the read-only status endpoint.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, src StatusSource, log zerolog.Logger) *Server {
	log = log.With().Str("component", "api").Logger()
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src, log),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server stopped")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// NewRouter builds the gin engine with /healthz, /status and /metrics.
func NewRouter(src StatusSource, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, newStatusView(src.Status()))
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		log.Debug().Str("method", c.Request.Method).Str("path", path).
			Int("status", c.Writer.Status()).Dur("took", time.Since(start)).Msg("request")
	}
}

type statusView struct {
	State   string     `json:"state"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Last    *cycleView `json:"last_cycle,omitempty"`
}

type cycleView struct {
	ID           string       `json:"id"`
	State        string       `json:"state"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Error        string       `json:"error,omitempty"`
	AssetsOK     int          `json:"assets_ok"`
	AssetsFailed int          `json:"assets_failed"`
	Metrics      *metricsView `json:"metrics,omitempty"`
	Failed       []fetchView  `json:"failed_assets,omitempty"`
}

// Non-finite values are not representable in JSON and become null.
type metricsView struct {
	CAGR         *float64 `json:"cagr"`
	Sharpe       *float64 `json:"sharpe"`
	MaxDrawdown  *float64 `json:"max_drawdown"`
	WinRate      *float64 `json:"win_rate"`
	ProfitFactor *float64 `json:"profit_factor"`
	TradingDays  int      `json:"trading_days"`
	FinalEquity  *float64 `json:"final_equity"`
}

type fetchView struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func newStatusView(st scheduler.Status) statusView {
	v := statusView{State: string(st.State)}
	if !st.Next.IsZero() {
		next := st.Next
		v.NextRun = &next
	}
	if st.Last != nil {
		v.Last = newCycleView(st.Last)
	}
	return v
}

func newCycleView(rec *recorder.CycleRecord) *cycleView {
	v := &cycleView{
		ID:           rec.ID,
		State:        rec.State,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		Error:        rec.Error,
		AssetsOK:     rec.AssetsOK,
		AssetsFailed: rec.AssetsFailed,
	}
	if m := rec.Metrics; m != nil {
		v.Metrics = &metricsView{
			CAGR:         finite(m.CAGR),
			Sharpe:       finite(m.Sharpe),
			MaxDrawdown:  finite(m.MaxDrawdown),
			WinRate:      finite(m.WinRate),
			ProfitFactor: finite(m.ProfitFactor),
			TradingDays:  m.TradingDays,
			FinalEquity:  finite(m.FinalEquity),
		}
	}
	for _, f := range rec.Fetches {
		if f.Error != "" {
			v.Failed = append(v.Failed, fetchView{ID: f.AssetID, Symbol: f.Symbol, Status: f.Status, Error: f.Error})
		}
	}
	return v
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
