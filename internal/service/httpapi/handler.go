// Package httpapi публикует операции пересчёта и версионирования заказов по HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/recalc"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// HeaderVersionID — заголовок с версией, в которой выполняется операция.
const HeaderVersionID = "X-Version-Id"

// OrderService — операции, доступные через HTTP.
type OrderService interface {
	PlaceOrder(ctx context.Context, req recalc.PlaceRequest) (domain.Order, recalc.Result, error)
	GetOrder(ctx context.Context, orderID, versionID string) (domain.Order, error)
	CreateVersion(ctx context.Context, orderID, versionID, name string) (versioning.Version, error)
	MergeVersion(ctx context.Context, versionID string) (versioning.MergeResult, error)
	DeleteVersion(ctx context.Context, versionID string) error

	Recalculate(ctx context.Context, orderID, versionID string, opts recalc.Options) (recalc.Result, error)
	AddProductLineItem(ctx context.Context, orderID, versionID, productID string, quantity int) (recalc.Result, error)
	AddCustomLineItem(ctx context.Context, orderID, versionID string, in recalc.CustomLineItem) (recalc.Result, error)
	AddCreditItem(ctx context.Context, orderID, versionID string, in recalc.CreditItem) (recalc.Result, error)
	AddPromotionLineItem(ctx context.Context, orderID, versionID, code string) (recalc.Result, error)
	ApplyAutomaticPromotions(ctx context.Context, orderID, versionID string) (recalc.Result, error)
	ReplaceOrderAddress(ctx context.Context, orderID, versionID, addressID string, address domain.OrderAddress) (recalc.Result, error)
	ChangeShippingCosts(ctx context.Context, orderID, versionID string, costs price.CalculatedPrice) (recalc.Result, error)
}

// Handler обслуживает HTTP API заказов.
type Handler struct {
	svc    OrderService
	logger *log.Entry
}

// NewHandler создаёт обработчик.
func NewHandler(svc OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes собирает маршрутизатор со стеком middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/order/{orderId}", h.getOrder)

		r.Route("/_action", func(r chi.Router) {
			r.Post("/order", h.placeOrder)
			r.Post("/version/order/{orderId}", h.createVersion)
			r.With(requireVersion).Post("/version/merge/order/{versionId}", h.mergeVersion)
			r.With(requireVersion).Delete("/version/{versionId}/order", h.deleteVersion)

			r.Route("/order/{orderId}", func(r chi.Router) {
				r.Use(requireVersion)
				r.Post("/recalculate", h.recalculate)
				r.Post("/product/{productId}", h.addProduct)
				r.Post("/lineItem", h.addCustomLineItem)
				r.Post("/creditItem", h.addCreditItem)
				r.Post("/promotion-item", h.addPromotion)
				r.Post("/applyAutomaticPromotions", h.applyAutomaticPromotions)
				r.Post("/shippingCosts", h.changeShippingCosts)
				r.Put("/address/{addressId}", h.replaceAddress)
			})
		})
	})
	return r
}

// requestLogger пишет одну строку лога на запрос.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.WithFields(log.Fields{
			"request_id":  chimw.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"version_id":  r.Header.Get(HeaderVersionID),
		}).Debug("request")
	})
}

type versionKey struct{}

// requireVersion отклоняет запросы без заголовка X-Version-Id.
func requireVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		versionID := r.Header.Get(HeaderVersionID)
		if versionID == "" {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Errors: []apiError{{
				Code:   "MISSING_VERSION_ID",
				Detail: fmt.Sprintf("header %s is required", HeaderVersionID),
			}}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), versionKey{}, versionID)))
	})
}

func versionFrom(r *http.Request) string {
	if v, ok := r.Context().Value(versionKey{}).(string); ok {
		return v
	}
	return r.Header.Get(HeaderVersionID)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// respond пишет 204 для пустого результата и 200 с мягкими ошибками иначе.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res recalc.Result, err error, always bool) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !always && len(res.Errors) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type placeOrderResponse struct {
	Order  domain.Order `json:"order"`
	Errors cart.Errors  `json:"errors"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req recalc.PlaceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, res, err := h.svc.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{Order: o, Errors: res.Errors})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "orderId"), r.Header.Get(HeaderVersionID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type createVersionRequest struct {
	VersionID string `json:"versionId,omitempty"`
	Name      string `json:"name,omitempty"`
}

type versionResponse struct {
	VersionID   string `json:"versionId"`
	VersionName string `json:"versionName,omitempty"`
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.VersionID == "" {
		req.VersionID = r.Header.Get(HeaderVersionID)
	}
	v, err := h.svc.CreateVersion(r.Context(), chi.URLParam(r, "orderId"), req.VersionID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{VersionID: v.ID, VersionName: v.Name})
}

// pathVersion возвращает версию из пути, если она совпадает с заголовком.
func pathVersion(r *http.Request) (string, error) {
	versionID := chi.URLParam(r, "versionId")
	if header := versionFrom(r); header != versionID {
		return "", fmt.Errorf("%w: header %s does not match version %s", domain.ErrInvalidArgument, HeaderVersionID, versionID)
	}
	return versionID, nil
}

func (h *Handler) mergeVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := pathVersion(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.MergeVersion(r.Context(), versionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := pathVersion(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteVersion(r.Context(), versionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	var opts recalc.Options
	if err := decode(r, &opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Recalculate(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), opts)
	h.respond(w, r, res, err, false)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) addProduct(w http.ResponseWriter, r *http.Request) {
	req := quantityRequest{Quantity: 1}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.AddProductLineItem(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), chi.URLParam(r, "productId"), req.Quantity)
	h.respond(w, r, res, err, false)
}

func (h *Handler) addCustomLineItem(w http.ResponseWriter, r *http.Request) {
	var req recalc.CustomLineItem
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.AddCustomLineItem(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), req)
	h.respond(w, r, res, err, false)
}

func (h *Handler) addCreditItem(w http.ResponseWriter, r *http.Request) {
	var req recalc.CreditItem
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.AddCreditItem(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), req)
	h.respond(w, r, res, err, false)
}

type promotionRequest struct {
	Code string `json:"code"`
}

func (h *Handler) addPromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.AddPromotionLineItem(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), req.Code)
	h.respond(w, r, res, err, true)
}

func (h *Handler) applyAutomaticPromotions(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ApplyAutomaticPromotions(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r))
	h.respond(w, r, res, err, true)
}

type shippingCostsRequest struct {
	ShippingCosts price.CalculatedPrice `json:"shippingCosts"`
}

func (h *Handler) changeShippingCosts(w http.ResponseWriter, r *http.Request) {
	var req shippingCostsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ChangeShippingCosts(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), req.ShippingCosts)
	h.respond(w, r, res, err, false)
}

func (h *Handler) replaceAddress(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderAddress
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ReplaceOrderAddress(r.Context(), chi.URLParam(r, "orderId"), versionFrom(r), chi.URLParam(r, "addressId"), req)
	h.respond(w, r, res, err, false)
}
