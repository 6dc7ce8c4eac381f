package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/scroll-tech/rpc-auth-proxy/internal/middleware"
	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
	"github.com/scroll-tech/rpc-auth-proxy/internal/policy"
	"github.com/scroll-tech/rpc-auth-proxy/internal/services"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/jsonrpc"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

// RPCHandler serves the single JSON-RPC endpoint: SIWE methods are handled
// locally, everything else is filtered and forwarded.
type RPCHandler struct {
	siweService  *services.SIWEService
	proxyService *services.ProxyService
}

func NewRPCHandler(siweService *services.SIWEService, proxyService *services.ProxyService) *RPCHandler {
	return &RPCHandler{
		siweService:  siweService,
		proxyService: proxyService,
	}
}

// Handle processes POST / request bodies, single or batched. The identity
// is resolved once per HTTP request and applied to every batch element.
func (h *RPCHandler) Handle(c *fiber.Ctx) error {
	identity := middleware.IdentityFromCtx(c)
	body := c.Body()
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	if !json.Valid(body) {
		return send(c, marshalResponse(jsonrpc.NewError(nil, errors.ParseError())))
	}

	if !jsonrpc.IsBatch(body) {
		return send(c, h.processOne(c.Context(), identity, body))
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return send(c, marshalResponse(jsonrpc.NewError(nil, errors.ParseError())))
	}
	if len(elements) == 0 {
		return send(c, marshalResponse(jsonrpc.NewError(nil, errors.InvalidRequest("Empty batch"))))
	}

	out := make([]json.RawMessage, 0, len(elements))
	for _, element := range elements {
		out = append(out, h.processOne(c.Context(), identity, element))
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return send(c, marshalResponse(jsonrpc.NewError(nil, errors.Internal("Internal error"))))
	}
	return send(c, payload)
}

// processOne handles a single request envelope and returns the raw response
// bytes: either an upstream body relayed unchanged or a locally built
// envelope.
func (h *RPCHandler) processOne(ctx context.Context, identity models.Identity, raw json.RawMessage) json.RawMessage {
	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(jsonrpc.NewError(nil, errors.InvalidRequest("Invalid request")))
	}
	if req.JSONRPC != jsonrpc.Version || req.Method == "" {
		return marshalResponse(jsonrpc.NewError(req.ID, errors.InvalidRequest("Invalid request")))
	}

	// SIWE methods are served locally and never forwarded.
	if strings.HasPrefix(req.Method, "siwe_") {
		return h.handleSIWE(ctx, req)
	}

	if appErr := policy.Authorize(identity, req.Method); appErr != nil {
		return marshalResponse(jsonrpc.NewError(req.ID, appErr))
	}

	respBody, err := h.proxyService.Forward(ctx, raw)
	if err != nil {
		logger.Error("Upstream forward failed", "method", req.Method, "error", err)
		return marshalResponse(jsonrpc.NewError(req.ID, errors.UpstreamUnreachable(err)))
	}
	if !json.Valid(respBody) {
		logger.Error("Upstream returned a non-JSON body", "method", req.Method)
		return marshalResponse(jsonrpc.NewError(req.ID, errors.UpstreamUnreachable(nil)))
	}
	return respBody
}

func (h *RPCHandler) handleSIWE(ctx context.Context, req jsonrpc.Request) json.RawMessage {
	switch req.Method {
	case "siwe_getNonce":
		nonce, err := h.siweService.GetNonce(ctx)
		if err != nil {
			return marshalResponse(jsonrpc.NewError(req.ID, asAppError(err)))
		}
		return marshalResult(req.ID, nonce)

	case "siwe_signIn":
		var params []string
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 2 {
			return marshalResponse(jsonrpc.NewError(req.ID, errors.InvalidRequest("siwe_signIn expects [message, signature]")))
		}
		token, err := h.siweService.SignIn(ctx, params[0], params[1])
		if err != nil {
			return marshalResponse(jsonrpc.NewError(req.ID, asAppError(err)))
		}
		return marshalResult(req.ID, token)

	default:
		return marshalResponse(jsonrpc.NewError(req.ID, errors.MethodNotFound()))
	}
}

func asAppError(err error) *errors.AppError {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr
	}
	return errors.Internal("Internal error")
}

func marshalResult(id json.RawMessage, result any) json.RawMessage {
	resp, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return marshalResponse(jsonrpc.NewError(id, errors.Internal("Internal error")))
	}
	return marshalResponse(resp)
}

func marshalResponse(resp jsonrpc.Response) json.RawMessage {
	raw, err := json.Marshal(resp)
	if err != nil {
		// The envelope is built from plain values; this cannot fail at
		// runtime, but a static body beats a panic.
		return json.RawMessage(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return raw
}

func send(c *fiber.Ctx, payload []byte) error {
	return c.Send(payload)
}
