package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"usdt-credit/internal/model"
	"usdt-credit/internal/repository"
	"usdt-credit/internal/service"

	"github.com/shopspring/decimal"
)

// apiResponse 统一 API 响应
type apiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// entryResponse 入账记录响应结构（自定义 JSON 输出）
type entryResponse struct {
	ID             int64  `json:"id"`
	DepositID      string `json:"deposit_id"`
	UserID         int64  `json:"user_id"`
	TxHash         string `json:"tx_hash"`
	FromAddress    string `json:"from_address"`
	ToAddress      string `json:"to_address"`
	GrossAmount    string `json:"gross_amount"`
	CreditedAmount string `json:"credited_amount"`
	Confirmations  int    `json:"confirmations"`
	BlockNumber    uint64 `json:"block_number"`
	Status         int16  `json:"status"`
	StatusText     string `json:"status_text"`
	CreatedAt      string `json:"created_at"`
}

// listData 入账记录列表数据
type listData struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Entries  []entryResponse `json:"entries"`
}

// HTTPHandler HTTP 接口处理器
type HTTPHandler struct {
	scanner    *service.ScannerService
	verifier   *service.VerifyService
	notifier   *service.NotifyService
	sweeper    *service.SweepService
	accounts   *service.AccountService
	ledgerRepo repository.LedgerRepository
	unresolved repository.UnresolvedRepository
}

// NewHTTPServer 创建并返回 HTTP 服务器
func NewHTTPServer(
	scanner *service.ScannerService,
	verifier *service.VerifyService,
	notifier *service.NotifyService,
	sweeper *service.SweepService,
	accounts *service.AccountService,
	ledgerRepo repository.LedgerRepository,
	unresolved repository.UnresolvedRepository,
	port int,
) *http.Server {
	handler := &HTTPHandler{
		scanner:    scanner,
		verifier:   verifier,
		notifier:   notifier,
		sweeper:    sweeper,
		accounts:   accounts,
		ledgerRepo: ledgerRepo,
		unresolved: unresolved,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/scan", handler.handleScan)
	mux.HandleFunc("/api/scanner/status", handler.handleScannerStatus)
	mux.HandleFunc("/api/verify", handler.handleVerify)
	mux.HandleFunc("/api/retry", handler.handleRetry)
	mux.HandleFunc("/api/sweep", handler.handleSweep)
	mux.HandleFunc("/api/deposits", handler.handleDeposits)
	mux.HandleFunc("/api/unresolved", handler.handleUnresolved)
	mux.HandleFunc("/api/unresolved/resolve", handler.handleResolve)
	mux.HandleFunc("/api/accounts/address", handler.handleAssignAddress)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

// handleScan 手动触发一轮扫描
func (h *HTTPHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.scanner.ScanOnce(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "扫描失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success"})
}

// handleScannerStatus 查询扫描器状态
func (h *HTTPHandler) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := h.scanner.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "查询失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: status})
}

// verifyRequest 自报交易验证请求
type verifyRequest struct {
	TxHash    string `json:"tx_hash"`
	UserID    int64  `json:"user_id"`
	Address   string `json:"address"`
	MinAmount string `json:"min_amount"`
}

// handleVerify 按交易哈希验证自报充值
func (h *HTTPHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "请求体解析失败: " + err.Error()})
		return
	}
	if req.TxHash == "" || req.Address == "" || req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "tx_hash、address、user_id 均为必填"})
		return
	}

	minAmount := decimal.Zero
	if req.MinAmount != "" {
		parsed, err := decimal.NewFromString(req.MinAmount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "min_amount 参数无效"})
			return
		}
		minAmount = parsed
	}

	result, err := h.verifier.Verify(r.Context(), req.TxHash, req.Address, minAmount, req.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "验证失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: result})
}

// handleRetry 手动触发一轮通知重试
func (h *HTTPHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.notifier.RunRetryPass(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "重试失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success"})
}

// handleSweep 手动触发一轮余额归集
func (h *HTTPHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	outcomes, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "归集失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: outcomes})
}

// handleDeposits 入账记录列表查询
func (h *HTTPHandler) handleDeposits(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	filter := repository.LedgerFilter{
		TxHash:   query.Get("tx_hash"),
		Page:     page,
		PageSize: pageSize,
	}

	if userStr := query.Get("user_id"); userStr != "" {
		userID, err := strconv.ParseInt(userStr, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "user_id 参数无效"})
			return
		}
		filter.UserID = &userID
	}
	if statusStr := query.Get("status"); statusStr != "" {
		statusVal, err := strconv.ParseInt(statusStr, 10, 16)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "status 参数无效，应为 0(待确认)、1(已入账)、2(已驳回)"})
			return
		}
		s := model.LedgerEntryStatus(statusVal)
		filter.Status = &s
	}

	entries, total, err := h.ledgerRepo.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "查询失败: " + err.Error()})
		return
	}

	page = filter.Page
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	list := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		list = append(list, toEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Code:    0,
		Message: "success",
		Data: listData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Entries:  list,
		},
	})
}

// handleUnresolved 无主充值队列查询
func (h *HTTPHandler) handleUnresolved(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	list, err := h.unresolved.ListOpen(r.Context(), 200)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "查询失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: list})
}

// resolveRequest 无主充值处理请求
type resolveRequest struct {
	ID     int64  `json:"id"`
	Action string `json:"action"` // match | dismiss
	UserID int64  `json:"user_id"`
}

// handleResolve 人工处理无主充值：匹配给用户或忽略
func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "请求体解析失败: " + err.Error()})
		return
	}
	if req.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "id 为必填"})
		return
	}

	switch req.Action {
	case "match":
		if req.UserID <= 0 {
			writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "匹配操作必须指定 user_id"})
			return
		}
		result, err := h.verifier.ResolveMatch(r.Context(), req.ID, req.UserID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "匹配失败: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: map[string]string{"result": string(result)}})
	case "dismiss":
		if err := h.verifier.ResolveDismiss(r.Context(), req.ID); err != nil {
			writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "忽略失败: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success"})
	default:
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "action 参数无效，应为 match 或 dismiss"})
	}
}

// assignRequest 充值地址分配请求
type assignRequest struct {
	UserID int64 `json:"user_id"`
}

// handleAssignAddress 为用户分配（或返回已有）充值地址
func (h *HTTPHandler) handleAssignAddress(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "请求体解析失败: " + err.Error()})
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Message: "user_id 为必填"})
		return
	}

	account, err := h.accounts.AssignAddress(r.Context(), req.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Message: "分配失败: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Data: account})
}

// toEntryResponse 将 model.LedgerEntry 转为响应结构
func toEntryResponse(e model.LedgerEntry) entryResponse {
	return entryResponse{
		ID:             e.ID,
		DepositID:      e.DepositID,
		UserID:         e.UserID,
		TxHash:         e.TxHash,
		FromAddress:    e.FromAddress,
		ToAddress:      e.ToAddress,
		GrossAmount:    e.GrossAmount.String(),
		CreditedAmount: e.CreditedAmount.String(),
		Confirmations:  e.Confirmations,
		BlockNumber:    e.BlockNumber,
		Status:         int16(e.Status),
		StatusText:     e.Status.String(),
		CreatedAt:      e.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// requireMethod 校验请求方法，不匹配时写 405 并返回 false
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, apiResponse{
			Code:    -1,
			Message: "仅支持 " + method + " 请求",
		})
		return false
	}
	return true
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
