// Package mcp exposes a bookledger client as Model Context Protocol tools.
//
// Usage:
//
//	server := mcp.NewServer(client, version)
//	err := server.Run(ctx, &mcpsdk.StdioTransport{})
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/pkg/logger"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "bookledger"

// Tool names
const (
	ToolGetState     = "get_state"
	ToolListBooks    = "list_books"
	ToolAddBook      = "add_book"
	ToolBorrowBook   = "borrow_book"
	ToolReturnBook   = "return_book"
	ToolRefresh      = "refresh"
	ToolGetAllowance = "get_allowance"
	ToolApprove      = "approve"
	ToolWithdraw     = "withdraw"
	ToolConnect      = "connect"
	ToolDisconnect   = "disconnect"
)

// LibraryClient is the part of *bookledger.Client the tools call.
type LibraryClient interface {
	State() bookledger.State
	Connect(ctx context.Context, connectorName string) (*bookledger.Session, error)
	Disconnect(ctx context.Context) error
	Refresh(ctx context.Context) error
	AddBook(ctx context.Context, name string, copies int64) bookledger.Outcome
	Borrow(ctx context.Context, id bookledger.BookID) bookledger.Outcome
	Return(ctx context.Context, id bookledger.BookID) bookledger.Outcome
	Affordance(book bookledger.Book) bookledger.Affordance
	GetAllowance(ctx context.Context) (bookledger.Allowance, error)
	Approve(ctx context.Context, amount *big.Int) bookledger.Outcome
	Withdraw(ctx context.Context, amount *big.Int) bookledger.Outcome
}

var _ LibraryClient = (*bookledger.Client)(nil)

// Option configures NewServer
type Option func(*toolset)

// WithLogger logs every tool call.
func WithLogger(l logger.Logger) Option {
	return func(t *toolset) {
		if l != nil {
			t.logger = l
		}
	}
}

type toolset struct {
	client LibraryClient
	logger logger.Logger
}

// NewServer returns an MCP server with the library tools registered.
func NewServer(client LibraryClient, version string, opts ...Option) *mcpsdk.Server {
	ts := &toolset{client: client, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(ts)
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)

	noArgs := json.RawMessage(`{"type": "object"}`)
	bookArgs := json.RawMessage(`{
		"type": "object",
		"properties": {"book_id": {"type": "string", "description": "0x-prefixed bytes32 book id"}},
		"required": ["book_id"]
	}`)
	amountArgs := json.RawMessage(`{
		"type": "object",
		"properties": {"amount": {"type": "string", "description": "Token amount in base units"}},
		"required": ["amount"]
	}`)

	ts.add(server, &mcpsdk.Tool{
		Name:        ToolGetState,
		Description: "Current session, inventory, allowance and last error",
		InputSchema: noArgs,
	}, ts.getState)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolListBooks,
		Description: "Books available to rent and books rented by the connected account",
		InputSchema: noArgs,
	}, ts.listBooks)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolAddBook,
		Description: "Add a book to the library. Only the library owner may add books.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"copies": {"type": "integer", "minimum": 1}
			},
			"required": ["name", "copies"]
		}`),
	}, ts.addBook)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolBorrowBook,
		Description: "Rent a book for the connected account",
		InputSchema: bookArgs,
	}, ts.borrow)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolReturnBook,
		Description: "Return a rented book",
		InputSchema: bookArgs,
	}, ts.returnBook)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolRefresh,
		Description: "Re-read the inventory from the ledger",
		InputSchema: noArgs,
	}, ts.refresh)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolGetAllowance,
		Description: "Token allowance, account balance and library balance",
		InputSchema: noArgs,
	}, ts.allowance)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolApprove,
		Description: "Let the library spend up to amount tokens",
		InputSchema: amountArgs,
	}, ts.approve)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolWithdraw,
		Description: "Move library tokens to the owner. Only the library owner may withdraw.",
		InputSchema: amountArgs,
	}, ts.withdraw)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolConnect,
		Description: "Connect a wallet through the named connector",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"connector": {"type": "string"}},
			"required": ["connector"]
		}`),
	}, ts.connect)
	ts.add(server, &mcpsdk.Tool{
		Name:        ToolDisconnect,
		Description: "Disconnect the wallet and forget the cached connector",
		InputSchema: noArgs,
	}, ts.disconnect)

	return server
}

type toolFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

func (ts *toolset) add(server *mcpsdk.Server, tool *mcpsdk.Tool, fn toolFunc) {
	server.AddTool(tool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		value, err := fn(ctx, args)
		if err != nil {
			ts.logger.Warn("tool call failed", zap.String("tool", tool.Name), zap.Error(err))
			return errorResult(err), nil
		}
		ts.logger.Debug("tool call", zap.String("tool", tool.Name))
		return jsonResult(value)
	})
}

func errorResult(err error) *mcpsdk.CallToolResult {
	text := bookledger.UserMessage(err)
	if code := bookledger.ErrorCode(err); code != "" {
		text = code + ": " + text
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func jsonResult(value interface{}) (*mcpsdk.CallToolResult, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
		StructuredContent: structured,
	}, nil
}

func decode(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, bookledger.NewError(bookledger.ErrCodeInvalidAmount, "Invalid amount", map[string]interface{}{
			"amount": raw,
		})
	}
	return amount, nil
}

// outcome turns a failed Outcome into an error and a successful one into its value.
func outcome(out bookledger.Outcome) (interface{}, error) {
	if out.Err != nil {
		return nil, out.Err
	}
	return out, nil
}

// ============================================================================
// Tools
// ============================================================================

type bookView struct {
	bookledger.Book
	Affordance bookledger.Affordance `json:"affordance"`
}

func (ts *toolset) getState(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return ts.client.State(), nil
}

func (ts *toolset) listBooks(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	st := ts.client.State()
	if !st.Connected {
		return nil, bookledger.ErrNotConnected
	}
	available := make([]bookView, 0, len(st.Inventory.Available))
	for _, b := range st.Inventory.Available {
		available = append(available, bookView{Book: b, Affordance: ts.client.Affordance(b)})
	}
	return map[string]interface{}{
		"available": available,
		"rented":    st.Inventory.Rented,
	}, nil
}

func (ts *toolset) addBook(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Name   string `json:"name"`
		Copies int64  `json:"copies"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	return outcome(ts.client.AddBook(ctx, in.Name, in.Copies))
}

type bookArgs struct {
	BookID string `json:"book_id"`
}

func (ts *toolset) borrow(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in bookArgs
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	return outcome(ts.client.Borrow(ctx, bookledger.BookID(in.BookID)))
}

func (ts *toolset) returnBook(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in bookArgs
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	return outcome(ts.client.Return(ctx, bookledger.BookID(in.BookID)))
}

func (ts *toolset) refresh(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	if err := ts.client.Refresh(ctx); err != nil {
		return nil, err
	}
	return ts.client.State().Inventory, nil
}

func (ts *toolset) allowance(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return ts.client.GetAllowance(ctx)
}

type amountArgs struct {
	Amount string `json:"amount"`
}

func (ts *toolset) approve(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in amountArgs
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	return outcome(ts.client.Approve(ctx, amount))
}

func (ts *toolset) withdraw(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in amountArgs
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	return outcome(ts.client.Withdraw(ctx, amount))
}

func (ts *toolset) connect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Connector string `json:"connector"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	if _, err := ts.client.Connect(ctx, in.Connector); err != nil {
		return nil, err
	}
	return ts.client.State(), nil
}

func (ts *toolset) disconnect(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	if err := ts.client.Disconnect(ctx); err != nil {
		ts.logger.Warn("disconnect reported errors", zap.Error(err))
	}
	return ts.client.State(), nil
}
