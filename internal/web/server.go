// Package web exposes the rate cache and the ledger over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/app"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/valuation"
	"go.uber.org/zap"
)

const historyPollInterval = 2 * time.Second

// Server serves the JSON API.
type Server struct {
	Addr   string
	app    *app.App
	logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, a *app.App, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, app: a, logger: logger}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/rates", func(rr chi.Router) {
		rr.Get("/", s.handleListRates)
		rr.Post("/refresh", s.handleRefresh)
		rr.Get("/{from}/{to}", s.handleGetRate)
	})

	r.Get("/history", s.handleHistory)
	r.Get("/history/stream", s.handleHistoryStream)

	r.Route("/portfolios/{user}", func(pr chi.Router) {
		pr.Get("/", s.handlePortfolio)
		pr.Get("/receipts", s.handleReceipts)
		pr.Post("/buy", s.handleTrade(domain.SideBuy))
		pr.Post("/sell", s.handleTrade(domain.SideSell))
		pr.Post("/deposit", s.handleTrade(domain.SideDeposit))
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type healthResponse struct {
	Status      string    `json:"status"`
	Base        string    `json:"base"`
	Rates       int       `json:"rates"`
	LastRefresh time.Time `json:"last_refresh"`
	Mirror      string    `json:"mirror"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	table := s.app.Rates().Current()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Base:        table.Base(),
		Rates:       table.Len(),
		LastRefresh: table.RefreshedAt(),
		Mirror:      s.app.MirrorStatus(r.Context()),
	})
}

type rateView struct {
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source,omitempty"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
	Stale     bool            `json:"stale,omitempty"`
}

type ratesResponse struct {
	Base        string     `json:"base"`
	LastRefresh time.Time  `json:"last_refresh"`
	Rates       []rateView `json:"rates"`
}

func (s *Server) handleListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := valuation.Filter{Currency: q.Get("currency"), Base: q.Get("base")}
	if raw := q.Get("top"); raw != "" {
		top, err := strconv.Atoi(raw)
		if err != nil || top < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid top %q", raw))
			return
		}
		filter.Top = top
	}

	rates, err := s.app.Valuation().ListRates(filter)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := ratesResponse{LastRefresh: s.app.Valuation().RefreshedAt(), Rates: make([]rateView, 0, len(rates))}
	for _, rate := range rates {
		resp.Base = rate.Base
		view := rateView{Currency: rate.Currency, Price: rate.Price, Stale: rate.Stale}
		if !rate.FetchedAt.IsZero() {
			at := rate.FetchedAt
			view.FetchedAt = &at
			view.Source = rate.Source.String()
		}
		resp.Rates = append(resp.Rates, view)
	}
	if resp.Base == "" {
		resp.Base = s.app.Valuation().Base()
	}
	writeJSON(w, http.StatusOK, resp)
}

type pairResponse struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Rate    decimal.Decimal `json:"rate"`
	Reverse decimal.Decimal `json:"reverse"`
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	pair, err := domain.NewPair(chi.URLParam(r, "from"), chi.URLParam(r, "to"))
	if err != nil {
		s.fail(w, err)
		return
	}

	rate, err := s.app.Valuation().Rate(pair.From, pair.To)
	if err != nil {
		s.fail(w, err)
		return
	}
	rev := pair.Reverse()
	reverse, err := s.app.Valuation().Rate(rev.From, rev.To)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairResponse{From: pair.From, To: pair.To, Rate: rate, Reverse: reverse})
}

type sourceView struct {
	Source  string `json:"source"`
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Dropped int    `json:"dropped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type refreshResponse struct {
	Updated     int          `json:"updated"`
	Total       int          `json:"total"`
	LastRefresh time.Time    `json:"last_refresh"`
	HistoryID   string       `json:"history_id"`
	Sources     []sourceView `json:"sources"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.ParseSource(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := s.app.RefreshRates(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}

	result := outcome.Result
	resp := refreshResponse{
		Updated:     result.UpdatedCount,
		Total:       result.NewTable.Len(),
		LastRefresh: result.NewTable.RefreshedAt(),
		HistoryID:   outcome.Entry.ID,
	}
	for _, src := range result.Order {
		st := result.PerSourceStatus[src]
		view := sourceView{Source: src.String(), OK: st.OK(), Count: st.Count, Dropped: st.Dropped}
		if st.Err != nil {
			view.Error = st.Err.Error()
		}
		resp.Sources = append(resp.Sources, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.app.Rates().History()
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleHistoryStream pushes history entries as server-sent events.
func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(historyPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendEntries := func() error {
		records, err := s.app.Rates().HistoryAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: refresh\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendEntries(); err != nil {
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		s.logger.Error("history stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEntries(); err != nil {
				s.logger.Error("history stream poll", zap.Error(err))
			}
		}
	}
}

type holdingView struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Rate     decimal.Decimal `json:"rate"`
	Value    decimal.Decimal `json:"value"`
}

type portfolioResponse struct {
	UserID   string          `json:"user_id"`
	Base     string          `json:"base"`
	Holdings []holdingView   `json:"holdings"`
	Total    decimal.Decimal `json:"total"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Ledger().Report(r.Context(), chi.URLParam(r, "user"), r.URL.Query().Get("base"))
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := portfolioResponse{
		UserID:   report.UserID,
		Base:     report.Base,
		Holdings: make([]holdingView, 0, len(report.Holdings)),
		Total:    report.Total,
	}
	for _, h := range report.Holdings {
		resp.Holdings = append(resp.Holdings, holdingView(h))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	records, err := s.app.Journal().ReceiptsAfter(0, chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	receipts := make([]domain.Receipt, 0, len(records))
	for _, rec := range records {
		receipts = append(receipts, rec.Receipt)
	}
	writeJSON(w, http.StatusOK, receipts)
}

type tradeRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

func (s *Server) handleTrade(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}

		user := chi.URLParam(r, "user")
		l := s.app.Ledger()

		var (
			receipt domain.Receipt
			err     error
		)
		switch side {
		case domain.SideBuy:
			receipt, err = l.Buy(r.Context(), user, req.Currency, req.Amount)
		case domain.SideSell:
			receipt, err = l.Sell(r.Context(), user, req.Currency, req.Amount)
		default:
			receipt, err = l.Deposit(r.Context(), user, req.Currency, req.Amount)
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCurrency):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInsufficientHoldings):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmptyCache), errors.Is(err, domain.ErrNoSourcesAvailable), errors.Is(err, domain.ErrStaleRate):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
