package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

// userHeader carries the acting user for audit entries
const userHeader = "X-User-ID"

// Service is the engine surface the HTTP layer depends on
// HTTP層が依存するエンジンのインターフェース
type Service interface {
	inventory.OperationService
	inventory.CatalogService
}

// HealthChecker reports backend availability
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handlers for the inventory API
// 在庫API用のHTTPハンドラーを保持
type Handlers struct {
	service Service
	health  HealthChecker
	logger  *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(service Service, health HealthChecker, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		service: service,
		health:  health,
		logger:  logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusRequest represents a status transition request
// ステータス遷移リクエストを表現
type StatusRequest struct {
	Status inventory.OperationStatus `json:"status"`
}

// BoxRequest represents a request to move product units into a container
// 商品をコンテナへ梱包するリクエストを表現
type BoxRequest struct {
	ProductID   string `json:"product_id"`
	ContainerID string `json:"container_id"`
	Quantity    int64  `json:"quantity"`
}

// LotRequest represents a get-or-create lot request
type LotRequest struct {
	ProductID  string     `json:"product_id"`
	LotNumber  string     `json:"lot_number"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// RenameRequest carries a new lot number or position code
type RenameRequest struct {
	Value string `json:"value"`
}

// WarehouseRequest represents a warehouse creation request
type WarehouseRequest struct {
	Name string `json:"name"`
}

// PositionRequest represents a position creation request
type PositionRequest struct {
	WarehouseID string `json:"warehouse_id"`
	Code        string `json:"code"`
}

// PlaceRequest represents a container placement request; a nil position clears it
type PlaceRequest struct {
	PositionID *string `json:"position_id"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("ヘルスチェックに失敗しました", zap.Error(err))
			h.sendError(w, http.StatusServiceUnavailable, "データベースに接続できません")
			return
		}
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"service":   "stockwise",
	})
}

// CreateOperation handles operation creation with all its lines
// オペレーション作成リクエストを処理
func (h *Handlers) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreateOperationRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = userID(r)

	op, err := h.service.CreateOperation(r.Context(), req)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, op)
}

// GetOperation handles operation lookup
// オペレーション取得リクエストを処理
func (h *Handlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.service.GetOperation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, op)
}

// UpdateOperation handles operation field patches
// オペレーション更新リクエストを処理
func (h *Handlers) UpdateOperation(w http.ResponseWriter, r *http.Request) {
	var patch inventory.OperationPatch
	if !h.decode(w, r, &patch) {
		return
	}

	op, err := h.service.UpdateOperation(r.Context(), mux.Vars(r)["id"], patch, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, op)
}

// RemoveOperation handles operation deletion
// オペレーション削除リクエストを処理
func (h *Handlers) RemoveOperation(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.RemoveOperation(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, map[string]bool{"removed": removed})
}

// AddLine handles adding one line to a CREATED operation
// 明細追加リクエストを処理
func (h *Handlers) AddLine(w http.ResponseWriter, r *http.Request) {
	var line inventory.OperationLine
	if !h.decode(w, r, &line) {
		return
	}

	groups, err := h.service.AddLine(r.Context(), mux.Vars(r)["id"], line, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, groups)
}

// TransitionStatus handles workflow status changes
// ステータス遷移リクエストを処理
func (h *Handlers) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	op, err := h.service.TransitionStatus(r.Context(), mux.Vars(r)["id"], req.Status, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, op)
}

// AddProductToBox handles boxing of product units
// 梱包リクエストを処理
func (h *Handlers) AddProductToBox(w http.ResponseWriter, r *http.Request) {
	var req BoxRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.service.AddProductToBox(r.Context(), mux.Vars(r)["id"], req.ProductID, req.ContainerID, req.Quantity, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "梱包が完了しました"})
}

// ProductSummary handles per-product totals of an operation
// 商品別集計リクエストを処理
func (h *Handlers) ProductSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ProductSummary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, summary)
}

// CreateProduct handles product registration
// 商品登録リクエストを処理
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var product inventory.Product
	if !h.decode(w, r, &product) {
		return
	}

	if err := h.service.CreateProduct(r.Context(), &product, userID(r)); err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, product)
}

// GetStock handles cached stock lookup
// 在庫数取得リクエストを処理
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	stock, err := h.service.GetStock(r.Context(), productID)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"product_id": productID,
		"stock":      stock,
	})
}

// RecalculateStock handles forced projection rebuild for one product
// 在庫数再計算リクエストを処理
func (h *Handlers) RecalculateStock(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	stock, err := h.service.RecalculateStock(r.Context(), productID)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"product_id": productID,
		"stock":      stock,
	})
}

// GetOrCreateLot handles lot registration
// ロット登録リクエストを処理
func (h *Handlers) GetOrCreateLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if !h.decode(w, r, &req) {
		return
	}

	lot, err := h.service.GetOrCreateLot(r.Context(), req.ProductID, req.LotNumber, req.ExpiryDate, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, lot)
}

// RenameLot handles lot number correction
// ロット番号修正リクエストを処理
func (h *Handlers) RenameLot(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}

	lot, err := h.service.RenameLot(r.Context(), mux.Vars(r)["id"], req.Value, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, lot)
}

// GetExpiringLots handles expiring lot queries; ?within=72h overrides the configured window
// 期限間近ロット取得リクエストを処理
func (h *Handlers) GetExpiringLots(w http.ResponseWriter, r *http.Request) {
	var within time.Duration
	if v := r.URL.Query().Get("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			h.sendError(w, http.StatusBadRequest, "無効な期間指定です")
			return
		}
		within = d
	}

	lots, err := h.service.GetExpiringLots(r.Context(), within)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, lots)
}

// CreateContainer handles container registration
// コンテナ登録リクエストを処理
func (h *Handlers) CreateContainer(w http.ResponseWriter, r *http.Request) {
	var container inventory.Container
	if !h.decode(w, r, &container) {
		return
	}

	if err := h.service.CreateContainer(r.Context(), &container, userID(r)); err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, container)
}

// PlaceContainer handles container placement
func (h *Handlers) PlaceContainer(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.PlaceContainer(r.Context(), mux.Vars(r)["id"], req.PositionID, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, c)
}

// CreateWarehouse handles warehouse registration
func (h *Handlers) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req WarehouseRequest
	if !h.decode(w, r, &req) {
		return
	}

	wh, err := h.service.CreateWarehouse(r.Context(), req.Name)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, wh)
}

// CreatePosition handles position registration
// 保管位置登録リクエストを処理
func (h *Handlers) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.CreatePosition(r.Context(), req.WarehouseID, req.Code, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendCreated(w, p)
}

// RenamePosition handles position code changes
func (h *Handlers) RenamePosition(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.RenamePosition(r.Context(), mux.Vars(r)["id"], req.Value, userID(r))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, p)
}

// DeletePosition handles position removal
func (h *Handlers) DeletePosition(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePosition(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "保管位置を削除しました"})
}

// GetHistory handles history queries; from/to (RFC3339) select a date range, limit caps the result
// 履歴取得リクエストを処理
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entity := inventory.EntityType(vars["entityType"])
	entityID := vars["entityId"]
	query := r.URL.Query()

	if query.Get("from") != "" || query.Get("to") != "" {
		from, err := time.Parse(time.RFC3339, query.Get("from"))
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "無効な開始日時です")
			return
		}
		to, err := time.Parse(time.RFC3339, query.Get("to"))
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "無効な終了日時です")
			return
		}

		entries, err := h.service.GetHistoryByDateRange(r.Context(), entity, entityID, from, to)
		if err != nil {
			h.sendEngineError(w, err)
			return
		}
		h.sendSuccess(w, entries)
		return
	}

	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.sendError(w, http.StatusBadRequest, "無効な件数指定です")
			return
		}
		limit = n
	}

	entries, err := h.service.GetHistory(r.Context(), entity, entityID, limit)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, entries)
}

// ヘルパーメソッド

func userID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes
// エンジンのエラーをHTTPステータスに変換
func statusFor(err error) int {
	var validationErr *inventory.ValidationError
	var concurrencyErr *inventory.ConcurrencyError
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidSplit):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConflict),
		errors.Is(err, inventory.ErrDuplicateRecord),
		errors.As(err, &concurrencyErr):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrDuplicateLot),
		errors.Is(err, inventory.ErrInvalidTransition),
		errors.Is(err, inventory.ErrIllegalState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) sendEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, status, "内部エラーが発生しました")
		return
	}
	h.sendError(w, status, err.Error())
}

// sendSuccess sends a successful response
// 成功レスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.send(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	h.send(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// sendError sends an error response
// エラーレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.send(w, statusCode, APIResponse{Success: false, Error: message})
}

func (h *Handlers) send(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンスのエンコードに失敗しました", zap.Error(err))
	}
}
