// Package rpc serves the wallet commands over JSON-RPC 2.0.
package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/catalogfi/zwallet/command"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const Version = "2.0"

type RPC interface {
	RegisterCommand(cmd command.Command)
	HandleJSONRPC(ctx *gin.Context)
	SetLogger(logger *zap.Logger) RPC
	Handler() http.Handler
}

type rpc struct {
	commands map[string]command.Command
	engine   *gin.Engine
	requests *prometheus.CounterVec
	logger   *zap.Logger
}

type Request struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type Response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RpcError       `json:"error,omitempty"`
}

// New creates a server without commands. When reg is set the request
// counters are registered on it and gatherer is served at /metrics.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) RPC {
	r := &rpc{
		commands: make(map[string]command.Command),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zwallet_rpc_requests_total",
			Help: "JSON-RPC requests by method and error code.",
		}, []string{"method", "code"}),
		logger: zap.NewNop(),
	}
	if reg != nil {
		reg.MustRegister(r.requests)
	}

	r.engine = gin.New()
	r.engine.Use(gin.Recovery())
	r.engine.POST("/", r.HandleJSONRPC)
	if gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Default creates a server with every wallet command.
func Default(w *command.Wallet, reg prometheus.Registerer, gatherer prometheus.Gatherer) RPC {
	r := New(reg, gatherer)
	for _, cmd := range command.Default(w) {
		r.RegisterCommand(cmd)
	}
	return r
}

func (r *rpc) RegisterCommand(cmd command.Command) {
	r.commands[cmd.Name()] = cmd
}

func (r *rpc) respond(ctx *gin.Context, req *Request, result interface{}, rpcErr *RpcError) {
	code := "0"
	status := http.StatusOK
	if rpcErr != nil {
		code = strconv.Itoa(rpcErr.Code)
		status = http.StatusBadRequest
	}
	r.requests.WithLabelValues(req.Method, code).Inc()
	ctx.JSON(status, Response{Version: Version, ID: req.ID, Result: result, Error: rpcErr})
}

func (r *rpc) HandleJSONRPC(ctx *gin.Context) {
	req := Request{}
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		r.respond(ctx, &req, nil, NewInvalidRequestError(err.Error()))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		r.respond(ctx, &req, nil, NewParsingError(err.Error()))
		return
	}
	if req.Method == "" || (req.Version != "" && req.Version != Version) {
		r.respond(ctx, &req, nil, NewInvalidRequestError("invalid json-rpc request"))
		return
	}
	r.logger.Info("rpc request", zap.String("method", req.Method))

	//check if the method is registered or not
	cmd, ok := r.commands[req.Method]
	if !ok {
		r.respond(ctx, &req, nil, NewMethodNotFoundError())
		return
	}

	resp, err := cmd.Execute(ctx.Request.Context(), req.Params)
	if err != nil {
		rpcErr := toRpcError(err)
		r.logger.Warn("rpc request failed",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
			zap.Error(err))
		r.respond(ctx, &req, nil, rpcErr)
		return
	}
	r.respond(ctx, &req, resp, nil)
}

func (r *rpc) SetLogger(logger *zap.Logger) RPC {
	r.logger = logger.Named("rpc")
	return r
}

func (r *rpc) Handler() http.Handler {
	return r.engine
}
