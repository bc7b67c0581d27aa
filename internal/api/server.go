package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OpenWallet-Chain/internal/approval"
	"OpenWallet-Chain/internal/chains"
	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/gateway"
	"OpenWallet-Chain/internal/observability/alerting"
	"OpenWallet-Chain/internal/observability/metrics"
	"OpenWallet-Chain/internal/vault"
	"OpenWallet-Chain/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动钱包动作与审批回调。
type Server struct {
	addr    string
	gateway *gateway.Service
	vault   *vault.Service
	alerts  alerting.Dispatcher
	log     *slog.Logger
}

// NewServer 构造 API 服务实例。alerts 可为 nil，表示不接告警。
func NewServer(addr string, gw *gateway.Service, vaultSvc *vault.Service, alerts alerting.Dispatcher) *Server {
	return &Server{
		addr:    addr,
		gateway: gw,
		vault:   vaultSvc,
		alerts:  alerts,
		log:     logger.Named("api"),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/actions", s.instrument("actions", s.handleActions))
	mux.HandleFunc("/api/v1/approvals", s.instrument("approvals", s.handleApprovals))
	mux.HandleFunc("/api/v1/approvals/callback", s.instrument("approval_callback", s.handleApprovalCallback))
	mux.HandleFunc("/api/v1/chains", s.instrument("chains", s.handleChains))
	mux.HandleFunc("/api/v1/credentials/inspect", s.instrument("credential_inspect", s.handleCredentialInspect))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleActions 处理动作提交。需要审批的动作会挂起到人工决定为止，
// 调用方应使用足够长的客户端超时。
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req gateway.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	resp, err := s.gateway.HandleAction(r.Context(), req)
	if err != nil {
		s.dispatchAlert(r.Context(), err, req.UserID, req.Action)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleApprovals 返回当前挂起的审批条目快照。
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	pending := s.gateway.Coordinator().Pending()
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// handleApprovalCallback 接收外部渠道回传的人工决定。重复回调返回
// 409，调用方不应重试。
func (s *Server) handleApprovalCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var msg approval.DecisionMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if msg.CorrelationID == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "correlation_id 不能为空"))
		return
	}

	decision := approval.DecisionFromChoice(msg.Choice)
	if err := s.gateway.Coordinator().Resolve(msg.CorrelationID, decision); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": msg.CorrelationID,
		"decision":       decision,
	})
}

// handleChains 返回支持的链标识列表。
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains.Supported()})
}

// handleCredentialInspect 是运维专用接口。不带口令时只返回托管地址；
// 携带正确的保管口令时返回解密后的私钥，作为运维兜底通道，绝不暴露给
// 智能体或终端用户。口令错误返回 403。
func (s *Server) handleCredentialInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID     int64  `json:"user_id"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	if req.Passphrase == "" {
		evmAddress, solAddress, err := s.vault.Addresses(r.Context(), req.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":        req.UserID,
			"evm_address":    evmAddress,
			"solana_address": solAddress,
		})
		return
	}

	cred, err := s.vault.Load(r.Context(), req.UserID, req.Passphrase)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logger.AuditEvent("credential_inspect", req.UserID,
		slog.String("evm_address", cred.EVMAddress))
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":            req.UserID,
		"evm_address":        cred.EVMAddress,
		"solana_address":     cred.SolanaAddress,
		"evm_private_key":    cred.EVMPrivateKey,
		"solana_private_key": cred.SolanaPrivateKey,
	})
}

// instrument 包装处理器，记录请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeError 把统一错误码映射为 HTTP 状态码，响应体携带错误码与消息
// 供调用方程序化处理。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": err.Error(),
	})
}

func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeUnsupportedChain:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeDuplicateUser, xerrors.CodeAlreadyResolved:
		return http.StatusConflict
	case xerrors.CodeApprovalDenied, xerrors.CodeDecryptionFailed:
		return http.StatusForbidden
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) dispatchAlert(ctx context.Context, err error, userID int64, action string) {
	if s.alerts == nil {
		return
	}
	event, ok := alerting.FromError(err, userID, action)
	if !ok {
		return
	}
	if notifyErr := s.alerts.Notify(ctx, event); notifyErr != nil {
		s.log.Warn("告警发送失败", slog.String("error", notifyErr.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
