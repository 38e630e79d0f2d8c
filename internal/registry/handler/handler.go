package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"propledger/internal/registry/idempotency"
	"propledger/internal/registry/models"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/platform/httputil"
	"propledger/pkg/requestcontext"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
	maxIdempotencyKeyLength  = 255
)

// Service defines the registry operations exposed over HTTP.
type Service interface {
	GrantExplicitAccess(ctx context.Context, principal id.PrincipalID) error
	RevokeExplicitAccess(ctx context.Context, principal id.PrincipalID) error
	Membership(ctx context.Context, principal id.PrincipalID) (models.Membership, error)
	GrantBackendRole(ctx context.Context, principal id.PrincipalID) error
	GrantAppRole(ctx context.Context, principal id.PrincipalID) error
	TransferOwnership(ctx context.Context, newOwner id.PrincipalID) error

	CreateProperty(ctx context.Context, fields models.PropertyFields) (*models.Property, error)
	UpdateProperty(ctx context.Context, propertyID id.PropertyID, fields models.PropertyFields) (*models.Property, error)
	VerifyProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error)
	GetProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error)
	GetPropertiesByOwner(ctx context.Context, owner id.PrincipalID) ([]id.PropertyID, error)

	CreateReport(ctx context.Context, draft models.ReportDraft) (*models.Report, error)
	VerifyReport(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	GetReport(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	GetReportsByProperty(ctx context.Context, propertyID id.PropertyID) ([]id.ReportID, error)
	ListReportsByProperty(ctx context.Context, propertyID id.PropertyID) ([]*models.Report, error)

	PurchaseReport(ctx context.Context, reportID id.ReportID, paid id.Amount) (*models.Receipt, error)
	HasPurchased(ctx context.Context, principal id.PrincipalID, reportID id.ReportID) (bool, error)
	GetReportContent(ctx context.Context, reportID id.ReportID) (string, error)
	GetBalance(ctx context.Context, principal id.PrincipalID) (id.Amount, error)

	GetParameters(ctx context.Context) (*models.Parameters, error)
	UpdatePaymentDistribution(ctx context.Context, dao, author, owner int) (*models.Parameters, error)
	UpdateMinimumReportPrice(ctx context.Context, amount id.Amount) (*models.Parameters, error)
	UpdateVerificationRequired(ctx context.Context, required bool) (*models.Parameters, error)
}

// Handler wires registry endpoints to the registry service.
type Handler struct {
	service Service
	guard   *idempotency.Guard
	logger  *slog.Logger
}

// New constructs a registry handler. guard may be nil, in which case
// Idempotency-Key headers are ignored.
func New(service Service, guard *idempotency.Guard, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		guard:   guard,
		logger:  logger,
	}
}

// RegisterPublic mounts the endpoints served without a caller identity.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/access/{principal}", h.HandleIsAuthorized)
}

// Register mounts the authenticated registry endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/access/grants", h.HandleGrantExplicitAccess)
	r.Delete("/access/grants/{principal}", h.HandleRevokeExplicitAccess)
	r.Post("/access/roles/backend", h.HandleGrantBackendRole)
	r.Post("/access/roles/app", h.HandleGrantAppRole)
	r.Post("/access/owner", h.HandleTransferOwnership)

	r.Post("/properties", h.HandleCreateProperty)
	r.Put("/properties/{id}", h.HandleUpdateProperty)
	r.Post("/properties/{id}/verify", h.HandleVerifyProperty)
	r.Get("/properties/{id}", h.HandleGetProperty)
	r.Get("/properties/{id}/reports", h.HandleGetReportsByProperty)
	r.Get("/owners/{principal}/properties", h.HandleGetPropertiesByOwner)

	r.Post("/reports", h.HandleCreateReport)
	r.Post("/reports/{id}/verify", h.HandleVerifyReport)
	r.Get("/reports/{id}", h.HandleGetReport)
	r.Post("/reports/{id}/purchase", h.HandlePurchaseReport)
	r.Get("/reports/{id}/purchases/{principal}", h.HandleHasPurchased)
	r.Get("/reports/{id}/content", h.HandleGetReportContent)

	r.Get("/balances/{principal}", h.HandleGetBalance)

	r.Get("/parameters", h.HandleGetParameters)
	r.Put("/parameters/distribution", h.HandleUpdateDistribution)
	r.Put("/parameters/minimum-price", h.HandleUpdateMinimumPrice)
	r.Put("/parameters/verification-required", h.HandleUpdateVerificationRequired)
}

// HandleIsAuthorized handles GET /access/{principal}.
func (h *Handler) HandleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principalParam(w, r, "principal")
	if !ok {
		return
	}
	m, err := h.service.Membership(ctx, principal)
	if err != nil {
		h.fail(ctx, w, "membership lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMembership(principal, m))
}

func (h *Handler) HandleGrantExplicitAccess(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "grant_explicit_access", h.service.GrantExplicitAccess)
}

func (h *Handler) HandleGrantBackendRole(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "grant_backend_role", h.service.GrantBackendRole)
}

func (h *Handler) HandleGrantAppRole(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "grant_app_role", h.service.GrantAppRole)
}

func (h *Handler) HandleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "transfer_ownership", h.service.TransferOwnership)
}

// grant decodes a PrincipalRequest and applies fn to it.
func (h *Handler) grant(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, id.PrincipalID) error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PrincipalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	principal := req.ParsedPrincipal()
	if err := fn(ctx, principal); err != nil {
		h.fail(ctx, w, "access change failed", err, "op", op, "principal", principal)
		return
	}
	h.logger.InfoContext(ctx, "access changed",
		"request_id", requestID,
		"op", op,
		"principal", principal,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeExplicitAccess handles DELETE /access/grants/{principal}.
func (h *Handler) HandleRevokeExplicitAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principalParam(w, r, "principal")
	if !ok {
		return
	}
	if err := h.service.RevokeExplicitAccess(ctx, principal); err != nil {
		h.fail(ctx, w, "revoke explicit access failed", err, "principal", principal)
		return
	}
	h.logger.InfoContext(ctx, "explicit access revoked",
		"request_id", requestcontext.RequestID(ctx),
		"principal", principal,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateProperty handles POST /properties.
func (h *Handler) HandleCreateProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[PropertyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	property, err := h.service.CreateProperty(ctx, req.Fields())
	if err != nil {
		h.fail(ctx, w, "create property failed", err)
		return
	}
	h.logger.InfoContext(ctx, "property created",
		"request_id", requestID,
		"property_id", property.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, property)
}

// HandleUpdateProperty handles PUT /properties/{id}.
func (h *Handler) HandleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	propertyID, ok := h.propertyParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[PropertyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	property, err := h.service.UpdateProperty(ctx, propertyID, req.Fields())
	if err != nil {
		h.fail(ctx, w, "update property failed", err, "property_id", propertyID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, property)
}

func (h *Handler) HandleVerifyProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID, ok := h.propertyParam(w, r)
	if !ok {
		return
	}
	property, err := h.service.VerifyProperty(ctx, propertyID)
	if err != nil {
		h.fail(ctx, w, "verify property failed", err, "property_id", propertyID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, property)
}

func (h *Handler) HandleGetProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID, ok := h.propertyParam(w, r)
	if !ok {
		return
	}
	property, err := h.service.GetProperty(ctx, propertyID)
	if err != nil {
		h.fail(ctx, w, "get property failed", err, "property_id", propertyID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, property)
}

// HandleGetPropertiesByOwner handles GET /owners/{principal}/properties.
func (h *Handler) HandleGetPropertiesByOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.principalParam(w, r, "principal")
	if !ok {
		return
	}
	ids, err := h.service.GetPropertiesByOwner(ctx, owner)
	if err != nil {
		h.fail(ctx, w, "list owner properties failed", err, "owner", owner)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &PropertyIDsResponse{Owner: owner, PropertyIDs: ids})
}

// HandleGetReportsByProperty handles GET /properties/{id}/reports. With
// ?expand=true the redacted report records are included.
func (h *Handler) HandleGetReportsByProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID, ok := h.propertyParam(w, r)
	if !ok {
		return
	}
	expand, err := parseBoolQuery(r, "expand")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := &ReportIDsResponse{PropertyID: propertyID, ReportIDs: []id.ReportID{}}
	if !expand {
		ids, err := h.service.GetReportsByProperty(ctx, propertyID)
		if err != nil {
			h.fail(ctx, w, "list property reports failed", err, "property_id", propertyID)
			return
		}
		resp.ReportIDs = ids
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}

	reports, err := h.service.ListReportsByProperty(ctx, propertyID)
	if err != nil {
		h.fail(ctx, w, "list property reports failed", err, "property_id", propertyID)
		return
	}
	resp.Reports = reports
	for _, report := range reports {
		resp.ReportIDs = append(resp.ReportIDs, report.ID)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleCreateReport handles POST /reports.
func (h *Handler) HandleCreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateReportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	draft := req.Draft()
	report, err := h.service.CreateReport(ctx, draft)
	if err != nil {
		h.fail(ctx, w, "create report failed", err, "property_id", draft.PropertyID)
		return
	}
	h.logger.InfoContext(ctx, "report created",
		"request_id", requestID,
		"report_id", report.ID,
		"property_id", report.PropertyID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, report)
}

func (h *Handler) HandleVerifyReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID, ok := h.reportParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.VerifyReport(ctx, reportID)
	if err != nil {
		h.fail(ctx, w, "verify report failed", err, "report_id", reportID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID, ok := h.reportParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.GetReport(ctx, reportID)
	if err != nil {
		h.fail(ctx, w, "get report failed", err, "report_id", reportID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandlePurchaseReport handles POST /reports/{id}/purchase.
//
// When an Idempotency-Key header is present the response is recorded per
// caller and key, and a retry with the same key and body replays it.
func (h *Handler) HandlePurchaseReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reportID, ok := h.reportParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[PurchaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	paid := req.Amount()

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.guard == nil {
		status, body := h.purchase(ctx, reportID, paid)
		writeRaw(w, status, body)
		return
	}
	if len(key) > maxIdempotencyKeyLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "idempotency key is too long"))
		return
	}

	caller, _ := requestcontext.Caller(ctx)
	scoped := caller.String() + ":" + key
	fingerprint := reportID.String() + ":" + paid.String()
	rec, replayed, err := h.guard.Do(ctx, scoped, fingerprint, func(ctx context.Context) idempotency.Record {
		status, body := h.purchase(ctx, reportID, paid)
		return idempotency.Record{Status: status, Body: body}
	})
	if err != nil {
		h.fail(ctx, w, "idempotent purchase failed", err, "report_id", reportID)
		return
	}
	if replayed {
		h.logger.InfoContext(ctx, "purchase response replayed",
			"request_id", requestID,
			"report_id", reportID,
		)
		w.Header().Set(HeaderIdempotentReplayed, "true")
	}
	writeRaw(w, rec.Status, rec.Body)
}

// purchase runs the settlement and renders the outcome as a status and JSON
// body so it can be recorded.
func (h *Handler) purchase(ctx context.Context, reportID id.ReportID, paid id.Amount) (int, []byte) {
	start := time.Now()
	receipt, err := h.service.PurchaseReport(ctx, reportID, paid)
	if err != nil {
		h.logFailure(ctx, "purchase report failed", err, "report_id", reportID, "paid_wei", paid)
		status, resp := httputil.ErrorBody(err)
		return status, mustJSON(resp)
	}
	h.logger.InfoContext(ctx, "report purchased",
		"request_id", requestcontext.RequestID(ctx),
		"report_id", reportID,
		"buyer", receipt.Buyer,
		"paid_wei", paid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return http.StatusOK, mustJSON(FromReceipt(receipt))
}

// HandleHasPurchased handles GET /reports/{id}/purchases/{principal}.
func (h *Handler) HandleHasPurchased(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID, ok := h.reportParam(w, r)
	if !ok {
		return
	}
	principal, ok := h.principalParam(w, r, "principal")
	if !ok {
		return
	}
	purchased, err := h.service.HasPurchased(ctx, principal, reportID)
	if err != nil {
		h.fail(ctx, w, "purchase lookup failed", err, "report_id", reportID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &PurchasedResponse{Principal: principal, ReportID: reportID, Purchased: purchased})
}

// HandleGetReportContent handles GET /reports/{id}/content.
func (h *Handler) HandleGetReportContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID, ok := h.reportParam(w, r)
	if !ok {
		return
	}
	pointer, err := h.service.GetReportContent(ctx, reportID)
	if err != nil {
		h.fail(ctx, w, "get report content failed", err, "report_id", reportID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ContentResponse{ReportID: reportID, ContentPointer: pointer})
}

func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principalParam(w, r, "principal")
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(ctx, principal)
	if err != nil {
		h.fail(ctx, w, "get balance failed", err, "principal", principal)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &BalanceResponse{
		Principal:  principal,
		BalanceWei: balance,
		BalanceEth: balance.Ether(),
	})
}

func (h *Handler) HandleGetParameters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := h.service.GetParameters(ctx)
	if err != nil {
		h.fail(ctx, w, "get parameters failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParameters(params))
}

// HandleUpdateDistribution handles PUT /parameters/distribution.
func (h *Handler) HandleUpdateDistribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DistributionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	params, err := h.service.UpdatePaymentDistribution(ctx, *req.DAO, *req.Author, *req.Owner)
	if err != nil {
		h.fail(ctx, w, "update distribution failed", err)
		return
	}
	h.logger.InfoContext(ctx, "payment distribution updated",
		"request_id", requestID,
		"dao", params.DAO,
		"author", params.Author,
		"owner", params.Owner,
	)
	httputil.WriteJSON(w, http.StatusOK, FromParameters(params))
}

func (h *Handler) HandleUpdateMinimumPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[MinimumPriceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	params, err := h.service.UpdateMinimumReportPrice(ctx, req.Amount())
	if err != nil {
		h.fail(ctx, w, "update minimum report price failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParameters(params))
}

func (h *Handler) HandleUpdateVerificationRequired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerificationRequiredRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	params, err := h.service.UpdateVerificationRequired(ctx, *req.Required)
	if err != nil {
		h.fail(ctx, w, "update verification flag failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParameters(params))
}

func (h *Handler) propertyParam(w http.ResponseWriter, r *http.Request) (id.PropertyID, bool) {
	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return propertyID, true
}

func (h *Handler) reportParam(w http.ResponseWriter, r *http.Request) (id.ReportID, bool) {
	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return reportID, true
}

func (h *Handler) principalParam(w http.ResponseWriter, r *http.Request, name string) (id.PrincipalID, bool) {
	principal, err := id.ParsePrincipalID(chi.URLParam(r, name))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PrincipalID{}, false
	}
	return principal, true
}

// fail logs err and writes the error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	h.logFailure(ctx, msg, err, attrs...)
	httputil.WriteError(w, err)
}

// logFailure logs rejections at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}, attrs...)
	code, ok := dErrors.CodeOf(err)
	if ok && code != dErrors.CodeInternal && code != dErrors.CodeTimeout {
		h.logger.WarnContext(ctx, msg, args...)
		return
	}
	h.logger.ErrorContext(ctx, msg, args...)
}

func parseBoolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeBadRequest, name+" must be a boolean")
	}
	return v, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(httputil.ErrorResponse{Error: string(dErrors.CodeInternal)})
	}
	return b
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
