package api

import (
	"time"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// credentialsRequest is the body of POST /signup and POST /login.
type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

// googleSignInRequest is the body of POST /auth/google.
type googleSignInRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// refreshRequest is the body of POST /auth/refresh; the token may come from
// the request body or the refresh cookie.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// sessionResponse is returned by every sign-in flow.
type sessionResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IDToken     string `json:"id_token"`
	ExpiresIn   string `json:"expires_in,omitempty"`
}

// profileResponse is returned by GET /user/profile.
type profileResponse struct {
	UID         string `json:"uid"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

// subscriptionRequest is the body of POST /subscription/add. Status is a
// pointer so that cancelled (0) survives the required check; the caller's
// initial status is persisted as sent.
type subscriptionRequest struct {
	Name             string  `json:"name" binding:"required"`
	Description      string  `json:"description"`
	Price            float64 `json:"price"`
	Currency         string  `json:"currency"`
	SubscriptionType string  `json:"subscription_type"`
	BillingDay       int     `json:"billing_day"`
	BillingFrequency string  `json:"billing_frequency"`
	NextPayment      string  `json:"next_payment"`
	PaymentMethod    string  `json:"payment_method"`
	Status           *int    `json:"status" binding:"required"`
	CardBank         string  `json:"card_bank"`
	CardFinalNumbers string  `json:"card_final_numbers"`
}

// subscriptionUpdateRequest is the body of PATCH /subscription/update/:id.
// Absent fields leave the stored value untouched.
type subscriptionUpdateRequest struct {
	Name             *string  `json:"name"`
	Description      *string  `json:"description"`
	Price            *float64 `json:"price"`
	Currency         *string  `json:"currency"`
	SubscriptionType *string  `json:"subscription_type"`
	BillingDay       *int     `json:"billing_day"`
	BillingFrequency *string  `json:"billing_frequency"`
	NextPayment      *string  `json:"next_payment"`
	PaymentMethod    *string  `json:"payment_method"`
	Status           *int     `json:"status"`
	CardBank         *string  `json:"card_bank"`
	CardFinalNumbers *string  `json:"card_final_numbers"`
}

// subscriptionResponse is one subscription record on the wire. NextPayment is
// a date-only string; the frontend never needs the time component.
type subscriptionResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	Price            float64 `json:"price"`
	Currency         string  `json:"currency,omitempty"`
	SubscriptionType string  `json:"subscription_type,omitempty"`
	BillingDay       int     `json:"billing_day,omitempty"`
	BillingFrequency string  `json:"billing_frequency"`
	NextPayment      string  `json:"next_payment,omitempty"`
	PaymentMethod    string  `json:"payment_method,omitempty"`
	Status           int     `json:"status"`
	StatusName       string  `json:"status_name"`
	CardBank         string  `json:"card_bank,omitempty"`
	CardFinalNumbers string  `json:"card_final_numbers,omitempty"`
}

// contactRequest is the body of POST /support/contact.
type contactRequest struct {
	Subject string `json:"subject" binding:"required"`
	Message string `json:"message" binding:"required"`
	Email   string `json:"email"`
}

// recalculateResponse is returned by POST /internal/recalculate.
type recalculateResponse struct {
	Processed int `json:"processed"`
}

func toSubscriptionResponse(sub *lifecycle.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:               sub.ID,
		Name:             sub.Name,
		Description:      sub.Description,
		Price:            sub.Price,
		Currency:         sub.Currency,
		SubscriptionType: sub.SubscriptionType,
		BillingDay:       sub.BillingDay,
		BillingFrequency: string(sub.BillingFrequency),
		PaymentMethod:    sub.PaymentMethod,
		Status:           int(sub.Status),
		StatusName:       sub.Status.String(),
		CardBank:         sub.CardBank,
		CardFinalNumbers: sub.CardFinalNumbers,
	}
	if sub.NextPayment != nil {
		resp.NextPayment = sub.NextPayment.UTC().Format("2006-01-02")
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
