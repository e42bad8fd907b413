package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/banglalekha/backend/internal/services"
)

const (
	dashboardRecentEntries = 5
	defaultHistoryLimit    = 20
)

type CreditsHandler struct {
	ledger     AccountLedger
	catalog    catalog.Catalog
	costs      map[models.Feature]int64
	lowBalance int64
}

func NewCreditsHandler(l AccountLedger, c catalog.Catalog, costs map[models.Feature]int64, lowBalance int64) *CreditsHandler {
	return &CreditsHandler{
		ledger:     l,
		catalog:    c,
		costs:      costs,
		lowBalance: lowBalance,
	}
}

type BalanceResponse struct {
	Balance    int64 `json:"balance"`
	LowBalance bool  `json:"low_balance"`
}

// Balance returns the caller's credit balance
// @Summary Get credit balance
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} BalanceResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	services.SendJSON(w, http.StatusOK, BalanceResponse{
		Balance:    balance,
		LowBalance: balance < h.lowBalance,
	})
}

type DashboardResponse struct {
	BalanceResponse
	Status        string                `json:"status"`
	RecentEntries []models.LedgerEntry  `json:"recent_entries"`
	Usage         []models.FeatureUsage `json:"usage"`
}

// Dashboard returns the balance with recent activity
// @Summary Credit dashboard
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} DashboardResponse
// @Router /credits/dashboard [get]
func (h *CreditsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	account, err := h.ledger.Account(ctx, accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recent, err := h.ledger.History(ctx, accountID, ledger.ListOptions{Limit: dashboardRecentEntries})
	if err != nil {
		writeError(w, r, err)
		return
	}
	usage, err := h.ledger.UsageSummary(ctx, accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	services.SendJSON(w, http.StatusOK, DashboardResponse{
		BalanceResponse: BalanceResponse{
			Balance:    account.Balance,
			LowBalance: account.Balance < h.lowBalance,
		},
		Status:        account.Status,
		RecentEntries: recent,
		Usage:         usage,
	})
}

type HistoryResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// History lists ledger entries, newest first
// @Summary Credit history
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Entries to skip"
// @Param kind query string false "purchase, debit_usage, refund or adjustment"
// @Success 200 {object} HistoryResponse
// @Failure 400 {object} services.ErrorResponse
// @Router /credits/history [get]
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit < 1 || limit > 100 {
		services.SendErrorResponse(w, "limit must be between 1 and 100", http.StatusBadRequest, nil)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		services.SendErrorResponse(w, "offset must not be negative", http.StatusBadRequest, nil)
		return
	}

	entries, err := h.ledger.History(r.Context(), accountID, ledger.ListOptions{
		Kind:   models.EntryKind(q.Get("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	services.SendJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Limit: limit, Offset: offset})
}

// Usage returns per-feature credit consumption
// @Summary Usage statistics
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{usage=[]models.FeatureUsage}
// @Router /credits/usage [get]
func (h *CreditsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	usage, err := h.ledger.UsageSummary(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var total int64
	for _, u := range usage {
		total += u.CreditsUsed
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"usage":       usage,
		"total_spent": total,
	})
}

type FeatureCost struct {
	Feature models.Feature `json:"feature"`
	Cost    int64          `json:"cost"`
}

// Packages lists purchasable credit packages and feature prices
// @Summary Credit packages
// @Tags Credits
// @Produce json
// @Success 200 {object} object{packages=[]models.CreditPackage,feature_costs=[]FeatureCost}
// @Router /credits/packages [get]
func (h *CreditsHandler) Packages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.catalog.Packages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	costs := make([]FeatureCost, 0, len(h.costs))
	for feature, cost := range h.costs {
		costs = append(costs, FeatureCost{Feature: feature, Cost: cost})
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].Feature < costs[j].Feature })

	services.SendJSON(w, http.StatusOK, map[string]any{
		"packages":      packages,
		"feature_costs": costs,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
