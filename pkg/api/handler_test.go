package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/sinuapp/sinu-api/pkg/auth"
	"github.com/sinuapp/sinu-api/pkg/lifecycle"
	"github.com/sinuapp/sinu-api/pkg/mail"
	"github.com/sinuapp/sinu-api/storage/memory"
)

const testSchedulerKey = "test-scheduler-key"

// fakeAuth is an AuthClient whose sessions are canned. Bearer tokens are
// resolved by stripping a "token-" prefix to recover the uid.
type fakeAuth struct {
	session *auth.Session
	err     error
}

func (f *fakeAuth) SignUp(context.Context, string, string) (*auth.Session, error) {
	return f.session, f.err
}

func (f *fakeAuth) SignInWithPassword(context.Context, string, string) (*auth.Session, error) {
	return f.session, f.err
}

func (f *fakeAuth) SignInWithGoogle(context.Context, string) (*auth.Session, error) {
	return f.session, f.err
}

func (f *fakeAuth) ExchangeRefreshToken(context.Context, string) (*auth.Session, error) {
	return f.session, f.err
}

func (f *fakeAuth) VerifyIDToken(_ context.Context, idToken string) (*auth.Claims, error) {
	if len(idToken) > 6 && idToken[:6] == "token-" {
		return &auth.Claims{UID: idToken[6:]}, nil
	}
	return nil, &auth.APIError{StatusCode: http.StatusUnauthorized, Message: "INVALID_ID_TOKEN"}
}

type fakeMailer struct {
	sent []mail.ContactMessage
	err  error
}

func (f *fakeMailer) SendContact(msg mail.ContactMessage) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type testEnv struct {
	router *gongin.Engine
	store  *memory.Store
	auth   *fakeAuth
	mailer *fakeMailer
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gongin.SetMode(gongin.TestMode)

	store := memory.New()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	manager, err := lifecycle.NewManager(store, lifecycle.Config{
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	authClient := &fakeAuth{}
	mailer := &fakeMailer{}
	handler, err := NewHandler(Config{
		Manager:      manager,
		Store:        store,
		Auth:         authClient,
		Mailer:       mailer,
		SchedulerKey: testSchedulerKey,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	return &testEnv{
		router: handler.Router(),
		store:  store,
		auth:   authClient,
		mailer: mailer,
		now:    now,
	}
}

func (e *testEnv) do(t *testing.T, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer token-"+uid)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, uid string, due time.Time, status lifecycle.Status) string {
	t.Helper()
	id, err := e.store.CreateSubscription(context.Background(), &lifecycle.Subscription{
		OwnerID:          uid,
		Name:             "Music",
		Price:            9.99,
		BillingFrequency: lifecycle.FrequencyMonthly,
		NextPayment:      &due,
		Status:           status,
		CreatedDate:      e.now,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return id
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal failed: %v (body: %s)", err, w.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}
}

func TestSignUp_SetsCookieAndProfile(t *testing.T) {
	env := newTestEnv(t)
	env.auth.session = &auth.Session{
		UID:          "uid-1",
		Email:        "ada@example.com",
		IDToken:      "id-token",
		RefreshToken: "refresh-1",
	}

	w := env.do(t, http.MethodPost, "/signup", "", credentialsRequest{
		Email: "ada@example.com", Password: "secret", Name: "Ada",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	resp := decode[sessionResponse](t, w)
	if resp.UID != "uid-1" || resp.IDToken != "id-token" {
		t.Errorf("Unexpected session: %+v", resp)
	}

	var refreshCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil {
		t.Fatal("No refresh cookie set")
	}
	if refreshCookie.Value != "refresh-1" || refreshCookie.Path != "/auth" {
		t.Errorf("Cookie = %+v", refreshCookie)
	}
	if !refreshCookie.HttpOnly || !refreshCookie.Secure {
		t.Error("Refresh cookie must be HttpOnly and Secure")
	}

	acct, err := env.store.GetAccount(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("Profile not created: %v", err)
	}
	if acct.Name != "Ada" || acct.Email != "ada@example.com" {
		t.Errorf("Profile = %+v", acct)
	}
}

func TestLogin_RejectedCredential(t *testing.T) {
	env := newTestEnv(t)
	env.auth.err = &auth.APIError{StatusCode: http.StatusBadRequest, Message: "INVALID_LOGIN_CREDENTIALS"}

	w := env.do(t, http.MethodPost, "/login", "", credentialsRequest{
		Email: "ada@example.com", Password: "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["detail"] != "INVALID_LOGIN_CREDENTIALS" {
		t.Errorf("detail = %q", resp["detail"])
	}
}

func TestRefresh_CookieRotation(t *testing.T) {
	env := newTestEnv(t)
	env.auth.session = &auth.Session{UID: "uid-1", IDToken: "new-id", RefreshToken: "rotated"}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(nil))
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	var rotated bool
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" && cookie.Value == "rotated" {
			rotated = true
		}
	}
	if !rotated {
		t.Error("Cookie-sourced refresh must rotate the cookie")
	}
}

func TestRefresh_InvalidCookieCleared(t *testing.T) {
	env := newTestEnv(t)
	env.auth.err = &auth.APIError{StatusCode: http.StatusBadRequest, Message: "INVALID_REFRESH_TOKEN"}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(nil))
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "stale"})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", w.Code)
	}
	var cleared bool
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("Invalid cookie-sourced token must clear the cookie")
	}
}

func TestRefresh_BodyTokenDoesNotTouchCookie(t *testing.T) {
	env := newTestEnv(t)
	env.auth.session = &auth.Session{UID: "uid-1", IDToken: "new-id", RefreshToken: "rotated"}

	w := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: "from-body"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			t.Errorf("Body-sourced refresh set a cookie: %+v", cookie)
		}
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/auth/refresh", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/user/profile"},
		{http.MethodGet, "/subscription/list"},
		{http.MethodPost, "/subscription/add"},
		{http.MethodPatch, "/subscription/update/x"},
		{http.MethodDelete, "/subscription/delete/x"},
		{http.MethodPost, "/subscription/confirm-payment/x"},
		{http.MethodPost, "/support/contact"},
	}
	for _, route := range routes {
		w := env.do(t, route.method, route.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", route.method, route.path, w.Code)
		}
	}
}

func TestProfile_MissingAccountReturnsBareUID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/user/profile", "uid-9", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if resp := decode[profileResponse](t, w); resp.UID != "uid-9" || resp.Name != "" {
		t.Errorf("Profile = %+v", resp)
	}
}

func TestAddSubscription(t *testing.T) {
	env := newTestEnv(t)

	active := int(lifecycle.StatusActive)
	w := env.do(t, http.MethodPost, "/subscription/add", "uid-1", subscriptionRequest{
		Name:             "Music",
		Price:            9.99,
		BillingFrequency: "monthly",
		NextPayment:      "2026-03-20",
		Status:           &active,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	resp := decode[subscriptionResponse](t, w)
	if resp.ID == "" {
		t.Error("No id assigned")
	}
	if resp.Status != active {
		t.Errorf("Status = %d, want %d", resp.Status, active)
	}
	if resp.NextPayment != "2026-03-20" {
		t.Errorf("NextPayment = %q", resp.NextPayment)
	}
}

func TestAddSubscription_CancelledStatusPersisted(t *testing.T) {
	env := newTestEnv(t)

	// Cancelled is sticky: it must survive creation and reconciliation even
	// with a due date inside the near-term window.
	cancelled := int(lifecycle.StatusCancelled)
	w := env.do(t, http.MethodPost, "/subscription/add", "uid-1", subscriptionRequest{
		Name:        "Old gym",
		NextPayment: env.now.AddDate(0, 0, 5).Format("2006-01-02"),
		Status:      &cancelled,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}
	if resp := decode[subscriptionResponse](t, w); resp.Status != cancelled {
		t.Fatalf("Status = %d, want cancelled", resp.Status)
	}

	w = env.do(t, http.MethodGet, "/subscription/list", "uid-1", nil)
	subs := decode[map[string][]subscriptionResponse](t, w)["subscriptions"]
	if len(subs) != 1 || subs[0].Status != cancelled {
		t.Errorf("Listed = %+v, want one cancelled record", subs)
	}
}

func TestAddSubscription_MissingStatus(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/subscription/add", "uid-1", map[string]string{
		"name":         "Music",
		"next_payment": "2026-03-20",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestAddSubscription_InvalidStatusCode(t *testing.T) {
	env := newTestEnv(t)
	bad := 7
	w := env.do(t, http.MethodPost, "/subscription/add", "uid-1", subscriptionRequest{
		Name:        "Music",
		NextPayment: "2026-03-20",
		Status:      &bad,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestAddSubscription_BadDate(t *testing.T) {
	env := newTestEnv(t)
	active := int(lifecycle.StatusActive)
	w := env.do(t, http.MethodPost, "/subscription/add", "uid-1", subscriptionRequest{
		Name:        "Music",
		NextPayment: "not-a-date",
		Status:      &active,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestListSubscriptions_ReconcilesStaleStatus(t *testing.T) {
	env := newTestEnv(t)
	// Stored as active but the due date is long past.
	env.seed(t, "uid-1", env.now.AddDate(0, 0, -30), lifecycle.StatusActive)

	w := env.do(t, http.MethodGet, "/subscription/list", "uid-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	resp := decode[map[string][]subscriptionResponse](t, w)
	subs := resp["subscriptions"]
	if len(subs) != 1 {
		t.Fatalf("Got %d subscriptions, want 1", len(subs))
	}
	if subs[0].Status != int(lifecycle.StatusExpired) {
		t.Errorf("Status = %d, want expired", subs[0].Status)
	}
}

func TestUpdateSubscription_ReconcilesAfterEdit(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 0, 60), lifecycle.StatusActive)

	// Pull the due date inside the near-term window.
	newDue := env.now.AddDate(0, 0, 3).Format("2006-01-02")
	w := env.do(t, http.MethodPatch, "/subscription/update/"+id, "uid-1", map[string]string{
		"next_payment": newDue,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if resp := decode[subscriptionResponse](t, w); resp.Status != int(lifecycle.StatusExpiring) {
		t.Errorf("Status = %d, want expiring", resp.Status)
	}
}

func TestUpdateSubscription_NotFound(t *testing.T) {
	env := newTestEnv(t)
	name := "x"
	w := env.do(t, http.MethodPatch, "/subscription/update/ghost", "uid-1", subscriptionUpdateRequest{Name: &name})
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestUpdateSubscription_InvalidStatusCode(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 1, 0), lifecycle.StatusActive)

	bad := 7
	w := env.do(t, http.MethodPatch, "/subscription/update/"+id, "uid-1", subscriptionUpdateRequest{Status: &bad})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestDeleteSubscription(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 1, 0), lifecycle.StatusActive)

	if w := env.do(t, http.MethodDelete, "/subscription/delete/"+id, "uid-1", nil); w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/subscription/delete/"+id, "uid-1", nil); w.Code != http.StatusNotFound {
		t.Errorf("Second delete: status = %d, want 404", w.Code)
	}
}

func TestDeleteSubscription_OwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 1, 0), lifecycle.StatusActive)

	if w := env.do(t, http.MethodDelete, "/subscription/delete/"+id, "uid-2", nil); w.Code != http.StatusNotFound {
		t.Errorf("Cross-owner delete: status = %d, want 404", w.Code)
	}
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 0, -5), lifecycle.StatusExpired)

	w := env.do(t, http.MethodPost, "/subscription/confirm-payment/"+id, "uid-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	resp := decode[subscriptionResponse](t, w)
	if resp.Status != int(lifecycle.StatusActive) {
		t.Errorf("Status = %d, want active", resp.Status)
	}
	// 2026-03-10 monthly: first due date after 2026-03-15 is 2026-04-10.
	if resp.NextPayment != "2026-04-10" {
		t.Errorf("NextPayment = %q, want 2026-04-10", resp.NextPayment)
	}
}

func TestConfirmPayment_NotExpired(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "uid-1", env.now.AddDate(0, 1, 0), lifecycle.StatusActive)

	w := env.do(t, http.MethodPost, "/subscription/confirm-payment/"+id, "uid-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestRecalculate_RequiresSchedulerKey(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/recalculate", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("No key: status = %d, want 403", w.Code)
	}
}

func TestRecalculate_ProcessesRecords(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "uid-1", env.now.AddDate(0, 0, -10), lifecycle.StatusActive)
	env.seed(t, "uid-2", env.now.AddDate(0, 0, 5), lifecycle.StatusActive)
	env.seed(t, "uid-3", env.now.AddDate(0, 1, 0), lifecycle.StatusActive)

	req := httptest.NewRequest(http.MethodPost, "/internal/recalculate", bytes.NewReader(nil))
	req.Header.Set("X-Scheduler-Key", testSchedulerKey)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	// The overdue and near-term records mutate; the far-future one does not.
	if resp := decode[recalculateResponse](t, w); resp.Processed != 2 {
		t.Errorf("Processed = %d, want 2", resp.Processed)
	}
}

func TestContact_ForwardsToMailer(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.UpsertAccount(context.Background(), &lifecycle.Account{
		UID: "uid-1", Email: "ada@example.com",
	}); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	w := env.do(t, http.MethodPost, "/support/contact", "uid-1", contactRequest{
		Subject: "Billing", Message: "Charged twice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	if len(env.mailer.sent) != 1 {
		t.Fatalf("Mailer got %d messages, want 1", len(env.mailer.sent))
	}
	msg := env.mailer.sent[0]
	if msg.FromUID != "uid-1" || msg.Subject != "Billing" {
		t.Errorf("Message = %+v", msg)
	}
	// The sender address falls back to the stored profile.
	if msg.FromEmail != "ada@example.com" {
		t.Errorf("FromEmail = %q", msg.FromEmail)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	store := memory.New()
	manager, err := lifecycle.NewManager(store, lifecycle.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tests := []struct {
		name   string
		config Config
	}{
		{"missing manager", Config{Store: store, Auth: &fakeAuth{}, SchedulerKey: "k"}},
		{"missing store", Config{Manager: manager, Auth: &fakeAuth{}, SchedulerKey: "k"}},
		{"missing auth", Config{Manager: manager, Store: store, SchedulerKey: "k"}},
		{"missing scheduler key", Config{Manager: manager, Store: store, Auth: &fakeAuth{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHandler(tt.config); err == nil {
				t.Error("Expected a config error")
			}
		})
	}
}

func TestGoogleSignIn_NameFromToken(t *testing.T) {
	env := newTestEnv(t)
	env.auth.session = &auth.Session{
		UID:          "uid-g",
		Email:        "g@example.com",
		IDToken:      fmt.Sprintf("%s.%s.", jwtSegment(`{"alg":"HS256","typ":"JWT"}`), jwtSegment(`{"name":"Grace Hopper"}`)),
		RefreshToken: "refresh-g",
	}

	w := env.do(t, http.MethodPost, "/auth/google", "", googleSignInRequest{IDToken: "google-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	acct, err := env.store.GetAccount(context.Background(), "uid-g")
	if err != nil {
		t.Fatalf("Profile not created: %v", err)
	}
	if acct.Name != "Grace Hopper" {
		t.Errorf("Name = %q, want token claim", acct.Name)
	}
}

func jwtSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
