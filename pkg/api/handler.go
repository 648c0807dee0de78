// Package api is the HTTP surface of the service: credential flows against
// the identity provider, per-account subscription CRUD, the internal
// recalculation trigger, and support contact.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	gongin "github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sinuapp/sinu-api/middleware/gin"
	"github.com/sinuapp/sinu-api/pkg/auth"
	"github.com/sinuapp/sinu-api/pkg/lifecycle"
	"github.com/sinuapp/sinu-api/pkg/mail"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"
	refreshCookieAge  = 30 * 24 * time.Hour
)

// Handler serves the REST API
type Handler struct {
	config Config
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &lifecycle.NoopLogger{}
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000"}
	}
	return &Handler{config: config}, nil
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gongin.Engine {
	router := gongin.New()
	router.Use(gongin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = h.config.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", h.health)
	if h.config.MetricsRegistry != nil {
		router.GET("/metrics", gongin.WrapH(promhttp.HandlerFor(
			h.config.MetricsRegistry, promhttp.HandlerOpts{})))
	}

	credGroup := router.Group("/")
	if h.config.LoginLimiter != nil {
		credGroup.Use(h.config.LoginLimiter)
	}
	credGroup.POST("/signup", h.signUp)
	credGroup.POST("/login", h.login)
	credGroup.POST("/auth/google", h.googleSignIn)
	router.POST("/auth/refresh", h.refresh)

	authed := router.Group("/", gin.RequireAuth(h.config.Auth))
	authed.GET("/user/profile", h.profile)
	authed.GET("/subscription/list", h.listSubscriptions)
	authed.POST("/subscription/add", h.addSubscription)
	authed.PATCH("/subscription/update/:id", h.updateSubscription)
	authed.DELETE("/subscription/delete/:id", h.deleteSubscription)
	authed.POST("/subscription/confirm-payment/:id", h.confirmPayment)
	if h.config.Mailer != nil {
		authed.POST("/support/contact", h.contact)
	}

	internal := router.Group("/internal", gin.RequireSchedulerKey(h.config.SchedulerKey))
	internal.POST("/recalculate", h.recalculate)

	return router
}

func (h *Handler) health(c *gongin.Context) {
	c.JSON(http.StatusOK, gongin.H{"status": "ok"})
}

func (h *Handler) signUp(c *gongin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	session, err := h.config.Auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(c, err)
		return
	}

	h.recordLogin(c, session, req.Name)
	h.setRefreshCookie(c, session.RefreshToken)
	c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) login(c *gongin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	session, err := h.config.Auth.SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(c, err)
		return
	}

	h.recordLogin(c, session, "")
	h.setRefreshCookie(c, session.RefreshToken)
	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *Handler) googleSignIn(c *gongin.Context) {
	var req googleSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	session, err := h.config.Auth.SignInWithGoogle(c.Request.Context(), req.IDToken)
	if err != nil {
		h.authError(c, err)
		return
	}

	// The Google profile name rides inside the returned ID token.
	name := session.DisplayName
	if name == "" {
		name = auth.TokenName(session.IDToken)
	}

	h.recordLogin(c, session, name)
	h.setRefreshCookie(c, session.RefreshToken)
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// refresh exchanges a refresh token, taken from the request body or the
// refresh cookie, for a fresh ID token. A cookie-sourced token is rotated:
// the new refresh token replaces it. On a rejected token the cookie is
// cleared so the client stops retrying a dead session.
func (h *Handler) refresh(c *gongin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)

	fromCookie := false
	token := req.RefreshToken
	if token == "" {
		if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie != "" {
			token = cookie
			fromCookie = true
		}
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Missing refresh token"})
		return
	}

	session, err := h.config.Auth.ExchangeRefreshToken(c.Request.Context(), token)
	if err != nil {
		if fromCookie && isUnauthorized(err) {
			h.clearRefreshCookie(c)
		}
		h.authError(c, err)
		return
	}

	if fromCookie {
		h.setRefreshCookie(c, session.RefreshToken)
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *Handler) profile(c *gongin.Context) {
	uid := gin.UID(c)
	acct, err := h.config.Store.GetAccount(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAccountNotFound) {
			c.JSON(http.StatusOK, profileResponse{UID: uid})
			return
		}
		h.internalError(c, "failed to load profile", err)
		return
	}

	c.JSON(http.StatusOK, profileResponse{
		UID:         acct.UID,
		Name:        acct.Name,
		Email:       acct.Email,
		CreatedAt:   formatTime(acct.CreatedAt),
		LastLoginAt: formatTime(acct.LastLoginAt),
	})
}

// listSubscriptions returns the account's subscriptions with statuses
// recomputed against the current date, so a stale stored status never
// reaches the frontend.
func (h *Handler) listSubscriptions(c *gongin.Context) {
	subs, err := h.config.Manager.ListReconciled(c.Request.Context(), gin.UID(c))
	if err != nil {
		h.internalError(c, "failed to list subscriptions", err)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	c.JSON(http.StatusOK, gongin.H{"subscriptions": out})
}

func (h *Handler) addSubscription(c *gongin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	due, err := lifecycle.NormalizeDueDate(req.NextPayment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid next_payment date"})
		return
	}

	status := lifecycle.Status(*req.Status)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid status code"})
		return
	}

	sub := &lifecycle.Subscription{
		OwnerID:          gin.UID(c),
		Name:             req.Name,
		Description:      req.Description,
		Price:            req.Price,
		Currency:         req.Currency,
		SubscriptionType: req.SubscriptionType,
		BillingDay:       req.BillingDay,
		BillingFrequency: lifecycle.ParseFrequency(req.BillingFrequency),
		NextPayment:      due,
		PaymentMethod:    req.PaymentMethod,
		Status:           status,
		CardBank:         req.CardBank,
		CardFinalNumbers: req.CardFinalNumbers,
		CreatedDate:      time.Now().UTC(),
	}

	id, err := h.config.Store.CreateSubscription(c.Request.Context(), sub)
	if err != nil {
		h.internalError(c, "failed to create subscription", err)
		return
	}

	sub.ID = id
	c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
}

func (h *Handler) updateSubscription(c *gongin.Context) {
	var req subscriptionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	update, err := toSubscriptionUpdate(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": err.Error()})
		return
	}

	uid := gin.UID(c)
	id := c.Param("id")
	if err := h.config.Store.UpdateSubscription(c.Request.Context(), uid, id, update); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gongin.H{"detail": "Subscription not found"})
		case errors.Is(err, lifecycle.ErrEmptyUpdate):
			c.JSON(http.StatusBadRequest, gongin.H{"detail": "Empty update"})
		default:
			h.internalError(c, "failed to update subscription", err)
		}
		return
	}

	// An edited due date may have moved the record across a status boundary.
	sub, err := h.config.Manager.Reconcile(c.Request.Context(), uid, id)
	if err != nil {
		h.internalError(c, "failed to reconcile subscription", err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) deleteSubscription(c *gongin.Context) {
	err := h.config.Store.DeleteSubscription(c.Request.Context(), gin.UID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gongin.H{"detail": "Subscription not found"})
			return
		}
		h.internalError(c, "failed to delete subscription", err)
		return
	}
	c.JSON(http.StatusOK, gongin.H{"detail": "Deleted"})
}

func (h *Handler) confirmPayment(c *gongin.Context) {
	sub, err := h.config.Manager.ConfirmPayment(c.Request.Context(), gin.UID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gongin.H{"detail": "Subscription not found"})
		case errors.Is(err, lifecycle.ErrNotExpired):
			c.JSON(http.StatusBadRequest, gongin.H{"detail": "Subscription is not expired"})
		case errors.Is(err, lifecycle.ErrInvalidDueDate):
			c.JSON(http.StatusBadRequest, gongin.H{"detail": "Subscription has no usable due date"})
		default:
			h.internalError(c, "failed to confirm payment", err)
		}
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) recalculate(c *gongin.Context) {
	processed, err := h.config.Manager.RecalculateAll(c.Request.Context())
	if err != nil {
		// Partial progress is still reported; the next scheduled run picks
		// up whatever the failed batches left behind.
		h.config.Logger.Error("recalculation finished with errors",
			lifecycle.Field{Key: "processed", Value: processed},
			lifecycle.Field{Key: "error", Value: err.Error()})
		c.JSON(http.StatusInternalServerError, gongin.H{
			"detail":    "Recalculation finished with errors",
			"processed": processed,
		})
		return
	}
	c.JSON(http.StatusOK, recalculateResponse{Processed: processed})
}

func (h *Handler) contact(c *gongin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gongin.H{"detail": "Invalid request body"})
		return
	}

	uid := gin.UID(c)
	email := req.Email
	if email == "" {
		if acct, err := h.config.Store.GetAccount(c.Request.Context(), uid); err == nil {
			email = acct.Email
		}
	}

	err := h.config.Mailer.SendContact(mail.ContactMessage{
		FromUID:   uid,
		FromEmail: email,
		Subject:   req.Subject,
		Body:      req.Message,
	})
	if err != nil {
		h.internalError(c, "failed to send support message", err)
		return
	}
	c.JSON(http.StatusOK, gongin.H{"detail": "Message sent"})
}

// recordLogin upserts the account profile after a successful sign-in. Profile
// bookkeeping is best-effort; a storage hiccup must not fail the login.
func (h *Handler) recordLogin(c *gongin.Context, session *auth.Session, name string) {
	now := time.Now().UTC()
	acct := &lifecycle.Account{
		UID:         session.UID,
		Email:       session.Email,
		Name:        name,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if err := h.config.Store.UpsertAccount(c.Request.Context(), acct); err != nil {
		h.config.Logger.Warn("profile upsert failed after sign-in",
			lifecycle.Field{Key: "uid", Value: session.UID},
			lifecycle.Field{Key: "error", Value: err.Error()})
	}
}

func (h *Handler) setRefreshCookie(c *gongin.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(refreshCookieName, refreshToken,
		int(refreshCookieAge.Seconds()), refreshCookiePath, "", true, true)
}

func (h *Handler) clearRefreshCookie(c *gongin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", true, true)
}

// authError maps identity provider failures onto API responses, passing the
// upstream error code through so the frontend can branch on it.
func (h *Handler) authError(c *gongin.Context, err error) {
	var apiErr *auth.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadRequest
		if apiErr.Unauthorized() {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gongin.H{"detail": apiErr.Message})
		return
	}
	h.internalError(c, "identity provider request failed", err)
}

func (h *Handler) internalError(c *gongin.Context, msg string, err error) {
	h.config.Logger.Error(msg,
		lifecycle.Field{Key: "path", Value: c.FullPath()},
		lifecycle.Field{Key: "error", Value: err.Error()})
	c.JSON(http.StatusInternalServerError, gongin.H{"detail": "Internal server error"})
}

func isUnauthorized(err error) bool {
	var apiErr *auth.APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

func toSessionResponse(session *auth.Session) sessionResponse {
	return sessionResponse{
		UID:         session.UID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		IDToken:     session.IDToken,
		ExpiresIn:   session.ExpiresIn,
	}
}

func toSubscriptionUpdate(req *subscriptionUpdateRequest) (*lifecycle.SubscriptionUpdate, error) {
	update := &lifecycle.SubscriptionUpdate{
		Name:             req.Name,
		Description:      req.Description,
		Price:            req.Price,
		Currency:         req.Currency,
		SubscriptionType: req.SubscriptionType,
		BillingDay:       req.BillingDay,
		PaymentMethod:    req.PaymentMethod,
		CardBank:         req.CardBank,
		CardFinalNumbers: req.CardFinalNumbers,
	}
	if req.BillingFrequency != nil {
		freq := lifecycle.ParseFrequency(*req.BillingFrequency)
		update.BillingFrequency = &freq
	}
	if req.NextPayment != nil {
		due, err := lifecycle.NormalizeDueDate(*req.NextPayment)
		if err != nil {
			return nil, fmt.Errorf("invalid next_payment date")
		}
		if due == nil {
			return nil, fmt.Errorf("next_payment cannot be cleared")
		}
		update.NextPayment = due
	}
	if req.Status != nil {
		st := lifecycle.Status(*req.Status)
		if !st.Valid() {
			return nil, fmt.Errorf("status code %d out of range", *req.Status)
		}
		update.Status = &st
	}
	return update, nil
}
