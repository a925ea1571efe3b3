// Package router wires the ops HTTP surface: health, metrics, sync status,
// and a small versioned API over groups, expenses, and balances.
package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/service"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

// GroupAPI is the slice of the group service the router needs.
type GroupAPI interface {
	CreateGroup(ctx context.Context, name string) (*types.Group, error)
	JoinGroup(ctx context.Context, code string) (*types.Group, error)
	GetGroup(ctx context.Context, id string) (*types.Group, error)
}

// ExpenseAPI is the slice of the expense service the router needs.
type ExpenseAPI interface {
	AddExpense(ctx context.Context, input service.AddExpenseInput) (string, error)
	ListExpenses(ctx context.Context, groupID string) ([]types.Expense, error)
}

// BalanceAPI is the slice of the balance service the router needs.
type BalanceAPI interface {
	ComputeBalances(ctx context.Context, groupID string) ([]types.MemberBalance, error)
	RecomputeDebts(ctx context.Context, groupID string) ([]types.Debt, error)
	ListDebts(ctx context.Context, groupID string) ([]types.Debt, error)
}

// StatusAPI exposes the sync state machine.
type StatusAPI interface {
	Status() types.SyncStatus
}

// Dependencies carries everything the router needs.
type Dependencies struct {
	Groups   GroupAPI
	Expenses ExpenseAPI
	Balances BalanceAPI
	Sync     StatusAPI
}

// SetupRouter builds the gin engine with all routes registered.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/sync/status", func(c *gin.Context) {
			status := deps.Sync.Status()
			c.JSON(http.StatusOK, gin.H{
				"status":  status,
				"message": status.DisplayMessage(),
			})
		})

		groups := v1.Group("/groups")
		{
			groups.POST("", createGroupHandler(deps.Groups))
			groups.POST("/join", joinGroupHandler(deps.Groups))
			groups.GET("/:id", getGroupHandler(deps.Groups))
			groups.GET("/:id/expenses", listExpensesHandler(deps.Expenses))
			groups.POST("/:id/expenses", addExpenseHandler(deps.Expenses))
			groups.GET("/:id/balances", balancesHandler(deps.Balances))
			groups.GET("/:id/debts", listDebtsHandler(deps.Balances))
			groups.POST("/:id/settle", settleHandler(deps.Balances))
		}
	}

	return r
}

type createGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

func createGroupHandler(api GroupAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.ValidationFailed("invalid request", err.Error()))
			return
		}
		group, err := api.CreateGroup(c.Request.Context(), req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, group)
	}
}

type joinGroupRequest struct {
	Code string `json:"code" binding:"required"`
}

func joinGroupHandler(api GroupAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.ValidationFailed("invalid request", err.Error()))
			return
		}
		group, err := api.JoinGroup(c.Request.Context(), req.Code)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

func getGroupHandler(api GroupAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		group, err := api.GetGroup(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

type addExpenseRequest struct {
	Description string   `json:"description"`
	Amount      string   `json:"amount" binding:"required"`
	PaidBy      string   `json:"paidBy"`
	SplitWith   []string `json:"splitWith" binding:"required"`
}

func addExpenseHandler(api ExpenseAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addExpenseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.ValidationFailed("invalid request", err.Error()))
			return
		}
		amount, err := types.ParseAmount(req.Amount)
		if err != nil {
			respondError(c, err)
			return
		}
		expenseID, err := api.AddExpense(c.Request.Context(), service.AddExpenseInput{
			GroupID:     c.Param("id"),
			Description: req.Description,
			Amount:      amount,
			PaidBy:      req.PaidBy,
			SplitWith:   req.SplitWith,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"expenseId": expenseID})
	}
}

func listExpensesHandler(api ExpenseAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		expenses, err := api.ListExpenses(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expenses": expenses})
	}
}

func balancesHandler(api BalanceAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		balances, err := api.ComputeBalances(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balances": balances})
	}
}

func listDebtsHandler(api BalanceAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		debts, err := api.ListDebts(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"debts": debts})
	}
}

func settleHandler(api BalanceAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		debts, err := api.RecomputeDebts(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"debts": debts})
	}
}

// respondError maps application errors onto HTTP responses, logging only the
// server-side ones.
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.GetLogger().Errorw("Request failed", "path", c.FullPath(), "error", err)
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"type":    appErr.Type,
			"message": appErr.Message,
			"detail":  appErr.Detail,
		})
		return
	}
	logger.GetLogger().Errorw("Request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"type":    apperrors.ServerError,
		"message": "internal server error",
	})
}
