// Package http serves a bookledger client over a JSON and server-sent events API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/pkg/logger"
)

// LibraryClient is the part of *bookledger.Client the API drives.
type LibraryClient interface {
	State() bookledger.State
	Connectors() []string
	Connect(ctx context.Context, connectorName string) (*bookledger.Session, error)
	Disconnect(ctx context.Context) error
	Refresh(ctx context.Context) error
	AddBook(ctx context.Context, name string, copies int64) bookledger.Outcome
	Borrow(ctx context.Context, id bookledger.BookID) bookledger.Outcome
	Return(ctx context.Context, id bookledger.BookID) bookledger.Outcome
	Affordance(book bookledger.Book) bookledger.Affordance
	PaymentsEnabled() bool
	RentPrice() *big.Int
	GetAllowance(ctx context.Context) (bookledger.Allowance, error)
	Approve(ctx context.Context, amount *big.Int) bookledger.Outcome
	Withdraw(ctx context.Context, amount *big.Int) bookledger.Outcome
	Notifications(ch chan<- bookledger.Notification) event.Subscription
}

var _ LibraryClient = (*bookledger.Client)(nil)

// DefaultKeepAlive is the interval between SSE comments on an idle stream.
const DefaultKeepAlive = 15 * time.Second

// Server routes HTTP requests to a LibraryClient.
type Server struct {
	client    LibraryClient
	logger    logger.Logger
	metrics   http.Handler
	keepAlive time.Duration
	engine    *gin.Engine
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger logs one line per request.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// NewServer builds the routes.
func NewServer(client LibraryClient, opts ...ServerOption) *Server {
	s := &Server{
		client:    client,
		logger:    logger.NewNop(),
		keepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(s.logger))

	r.GET("/healthz", s.health)
	r.GET("/state", s.state)
	r.GET("/books", s.books)
	r.POST("/books", s.addBook)
	r.POST("/books/:id/borrow", s.borrow)
	r.POST("/books/:id/return", s.returnBook)
	r.POST("/refresh", s.refresh)
	r.GET("/allowance", s.allowance)
	r.POST("/allowance/approve", s.approve)
	r.POST("/withdraw", s.withdraw)
	r.GET("/connectors", s.connectors)
	r.POST("/session/connect", s.connect)
	r.POST("/session/disconnect", s.disconnect)
	r.GET("/notifications", s.notifications)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.engine = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// Responses
// ============================================================================

type errorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type outcomeResponse struct {
	Outcome      bookledger.Outcome `json:"outcome"`
	Error        *errorResponse     `json:"error,omitempty"`
	RefreshError string             `json:"refreshError,omitempty"`
}

type bookView struct {
	bookledger.Book
	Affordance bookledger.Affordance `json:"affordance"`
}

type booksResponse struct {
	Available []bookView `json:"available"`
	Rented    []bookView `json:"rented"`
	Payments  bool       `json:"payments"`
	RentPrice *big.Int   `json:"rentPrice,omitempty"`
}

func toErrorResponse(err error) *errorResponse {
	var e *bookledger.Error
	if errors.As(err, &e) {
		return &errorResponse{Code: e.Code, Message: e.Message, Details: e.Details}
	}
	if errors.Is(err, bookledger.ErrNotConnected) {
		return &errorResponse{Code: bookledger.ErrCodeNotConnected, Message: err.Error()}
	}
	return &errorResponse{Code: "internal", Message: err.Error()}
}

// statusFor maps an error to the HTTP status reported for it.
func statusFor(err error) int {
	if errors.Is(err, bookledger.ErrNotConnected) {
		return http.StatusConflict
	}
	switch bookledger.ErrorCode(err) {
	case bookledger.ErrCodeInvalidBookName, bookledger.ErrCodeInvalidCopies, bookledger.ErrCodeInvalidBookID,
		bookledger.ErrCodeInvalidAmount, bookledger.ErrCodeInvalidAddress:
		return http.StatusBadRequest
	case bookledger.ErrCodeDuplicateBook, bookledger.ErrCodeNotConnected:
		return http.StatusConflict
	case bookledger.ErrCodeInsufficientAllowance:
		return http.StatusPaymentRequired
	case bookledger.ErrCodeTokenDisabled:
		return http.StatusNotFound
	case bookledger.ErrCodeTransactionFailed:
		return http.StatusUnprocessableEntity
	case bookledger.ErrCodeSubmissionFailed, bookledger.ErrCodeConnectFailed, bookledger.ErrCodeReconcileFailed:
		return http.StatusBadGateway
	case bookledger.ErrCodeAborted:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) writeOutcome(c *gin.Context, out bookledger.Outcome) {
	resp := outcomeResponse{Outcome: out}
	if out.RefreshErr != nil {
		resp.RefreshError = out.RefreshErr.Error()
	}
	if out.Err == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	resp.Error = toErrorResponse(out.Err)
	c.JSON(statusFor(out.Err), resp)
}

func (s *Server) writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": toErrorResponse(err)})
}

// readBody reads the request body and validates it against schema.
func (s *Server) readBody(c *gin.Context, schema *gojsonschema.Schema) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return nil, false
	}
	if err := validateBody(schema, body); err != nil {
		s.writeError(c, http.StatusBadRequest, bookledger.WrapError("invalid_request", err.Error(), err, nil))
		return nil, false
	}
	return body, true
}

func (s *Server) readAmount(c *gin.Context) (*big.Int, bool) {
	body, ok := s.readBody(c, amountRequestSchema)
	if !ok {
		return nil, false
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return nil, false
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.writeError(c, http.StatusBadRequest, bookledger.NewError(bookledger.ErrCodeInvalidAmount, "Invalid amount", nil))
		return nil, false
	}
	return amount, true
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connected": s.client.State().Connected})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.client.State())
}

func (s *Server) books(c *gin.Context) {
	st := s.client.State()
	resp := booksResponse{
		Available: make([]bookView, 0, len(st.Inventory.Available)),
		Rented:    make([]bookView, 0, len(st.Inventory.Rented)),
		Payments:  s.client.PaymentsEnabled(),
	}
	if resp.Payments {
		resp.RentPrice = s.client.RentPrice()
	}
	for _, b := range st.Inventory.Available {
		resp.Available = append(resp.Available, bookView{Book: b, Affordance: s.client.Affordance(b)})
	}
	for _, b := range st.Inventory.Rented {
		resp.Rented = append(resp.Rented, bookView{Book: b, Affordance: bookledger.AffordanceNone})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) addBook(c *gin.Context) {
	body, ok := s.readBody(c, addBookRequestSchema)
	if !ok {
		return
	}
	var req struct {
		Name   string `json:"name"`
		Copies int64  `json:"copies"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	s.writeOutcome(c, s.client.AddBook(c.Request.Context(), req.Name, req.Copies))
}

func (s *Server) borrow(c *gin.Context) {
	s.writeOutcome(c, s.client.Borrow(c.Request.Context(), bookledger.BookID(c.Param("id"))))
}

func (s *Server) returnBook(c *gin.Context) {
	s.writeOutcome(c, s.client.Return(c.Request.Context(), bookledger.BookID(c.Param("id"))))
}

func (s *Server) refresh(c *gin.Context) {
	if err := s.client.Refresh(c.Request.Context()); err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s.client.State().Inventory)
}

func (s *Server) allowance(c *gin.Context) {
	allowance, err := s.client.GetAllowance(c.Request.Context())
	if err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, allowance)
}

func (s *Server) approve(c *gin.Context) {
	amount, ok := s.readAmount(c)
	if !ok {
		return
	}
	s.writeOutcome(c, s.client.Approve(c.Request.Context(), amount))
}

func (s *Server) withdraw(c *gin.Context) {
	amount, ok := s.readAmount(c)
	if !ok {
		return
	}
	s.writeOutcome(c, s.client.Withdraw(c.Request.Context(), amount))
}

func (s *Server) connectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connectors": s.client.Connectors()})
}

func (s *Server) connect(c *gin.Context) {
	body, ok := s.readBody(c, connectRequestSchema)
	if !ok {
		return
	}
	var req struct {
		Connector string `json:"connector"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	if _, err := s.client.Connect(c.Request.Context(), req.Connector); err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s.client.State())
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.client.Disconnect(c.Request.Context()); err != nil {
		s.logger.Warn("disconnect reported errors", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.client.State())
}

// notifications streams relay notifications as server-sent events. The first
// event, "ready", is sent once the subscription is live.
func (s *Server) notifications(c *gin.Context) {
	ch := make(chan bookledger.Notification, 32)
	sub := s.client.Notifications(ch)
	defer sub.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", gin.H{"connected": s.client.State().Connected})
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Warn("notification stream ended", zap.Error(err))
			}
			return
		case n := <-ch:
			c.SSEvent(n.Kind, n)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
