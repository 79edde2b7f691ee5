package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/fleet"
	"kiosk-fleet/internal/ledger"
	"kiosk-fleet/internal/locator"
	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/notify"
	"kiosk-fleet/internal/ota"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/internal/storage"
	"kiosk-fleet/internal/support"
	"kiosk-fleet/migrations"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testAPI struct {
	url        string
	store      *repo.SQLiteRepository
	metrics    *metrics.Metrics
	adminToken string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dir := t.TempDir()
	logger := logging.Discard()

	store, err := repo.NewSQLite(ctx, filepath.Join(dir, "api.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := metrics.NewUnregistered("test")
	hub := realtime.NewHub(nil, logger, m)
	issuer, err := auth.NewIssuer("api-secret", "kiosk-test", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	authSvc := auth.NewService(store, issuer, logger)
	bucket, err := storage.NewBucket(filepath.Join(dir, "bucket"), "/ota-firmware", 1<<20, logger)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	directory := locator.NewDirectory(store, hub, logger)
	if err := directory.Load(ctx); err != nil {
		t.Fatalf("directory: %v", err)
	}
	go directory.Run(ctx)

	srv := NewServer(Deps{
		Auth:      authSvc,
		Profiles:  store,
		Ledger:    ledger.NewService(store, hub, m, logger, 100, 1000),
		OTA:       ota.NewService(store, bucket, hub, m, logger),
		Fleet:     fleet.NewService(store, hub, logger),
		Support:   support.NewService(store, hub, logger),
		Notify:    notify.NewService(store, nil, hub, logger),
		Directory: directory,
		Geocoder:  locator.NewGeocoder(locator.GeocoderConfig{BaseURL: "http://127.0.0.1:1"}, logger, m, nil),
		Hub:       hub,
		Metrics:   m,
		Logger:    logger,
		KeepAlive: 50 * time.Millisecond,
	})
	app := httptest.NewServer(srv.Router())
	t.Cleanup(app.Close)

	if _, err := authSvc.EnsureBootstrapAdmin(ctx, "admin@example.com", "adminpass"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	api := &testAPI{url: app.URL, store: store, metrics: m}
	api.adminToken = api.signIn(t, "admin@example.com", "adminpass")
	return api
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.url+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (a *testAPI) signIn(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign in %s: status %d %v", email, resp.StatusCode, body)
	}
	return body["access_token"].(string)
}

func (a *testAPI) signUp(t *testing.T, email string) (token, id string) {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": email, "password": "secret1", "full_name": "Customer",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("sign up: status %d %v", resp.StatusCode, body)
	}
	profile := body["profile"].(map[string]any)
	return body["access_token"].(string), profile["id"].(string)
}

func TestAuthAndRoleGate(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.signUp(t, "cust@example.com")

	resp, body := a.do(t, http.MethodGet, "/api/me", token, nil)
	if resp.StatusCode != http.StatusOK || body["role"] != "customer" {
		t.Fatalf("unexpected /me: %d %v", resp.StatusCode, body)
	}
	if resp, _ := a.do(t, http.MethodGet, "/api/me", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := a.do(t, http.MethodGet, "/api/admin/devices", token, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer on admin route, got %d", resp.StatusCode)
	}
	if resp, _ := a.do(t, http.MethodGet, "/api/admin/devices", a.adminToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", resp.StatusCode)
	}
	resp, body = a.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "cust@example.com", "password": "nope!!"})
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{"email": "cust@example.com", "password": "secret1"})
	if resp.StatusCode != http.StatusConflict || body["error"] != "conflict" {
		t.Fatalf("expected conflict on duplicate email, got %d %v", resp.StatusCode, body)
	}
}

func TestBalanceAndPayments(t *testing.T) {
	a := newTestAPI(t)
	token, id := a.signUp(t, "wallet@example.com")

	resp, body := a.do(t, http.MethodPost, "/api/admin/customers/"+id+"/balance", a.adminToken, map[string]any{"amount": 100})
	if resp.StatusCode != http.StatusOK || body["balance"].(float64) != 100 {
		t.Fatalf("unexpected credit: %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodPost, "/api/admin/customers/"+id+"/balance", a.adminToken, map[string]any{"amount": -200})
	if resp.StatusCode != http.StatusConflict || body["error"] != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodPost, "/api/me/topup", token, map[string]any{"card_number": "1111 2222 3333 4444"})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_card" {
		t.Fatalf("expected invalid_card, got %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodPost, "/api/me/topup", token, map[string]any{"card_number": "4111 1111 1111 1111", "amount": int64(math.MaxInt64)})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_amount" {
		t.Fatalf("expected invalid_amount above the top-up limit, got %d %v", resp.StatusCode, body)
	}

	resp, device := a.do(t, http.MethodPost, "/api/admin/devices", a.adminToken, map[string]any{"name": "Lobby", "price": 40})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create device: %d %v", resp.StatusCode, device)
	}
	resp, body = a.do(t, http.MethodPost, "/api/me/payments", token, map[string]any{"device_id": device["id"]})
	if resp.StatusCode != http.StatusOK || body["charged"].(float64) != 40 {
		t.Fatalf("unexpected payment: %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodGet, "/api/me/transactions", token, nil)
	if resp.StatusCode != http.StatusOK || len(body["transactions"].([]any)) != 2 {
		t.Fatalf("expected two transactions, got %d %v", resp.StatusCode, body)
	}
}

func TestOTAUploadAndDeploy(t *testing.T) {
	a := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("version", "4.1.0")
	_ = mw.WriteField("description", "door fix")
	part, _ := mw.CreateFormFile("file", "kiosk.bin")
	_, _ = part.Write([]byte("binary"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, a.url+"/api/admin/ota/releases", &buf)
	req.Header.Set("Authorization", "Bearer "+a.adminToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var rel map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&rel)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || rel["firmware_url"] != "/ota-firmware/firmware/4.1.0/kiosk.bin" {
		t.Fatalf("unexpected release: %d %v", resp.StatusCode, rel)
	}
	releaseID := rel["id"].(string)

	resp, body := a.do(t, http.MethodPost, "/api/admin/ota/releases/"+releaseID+"/deploy", a.adminToken, map[string]any{"all": true})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["error"] != "empty_target_set" {
		t.Fatalf("expected empty_target_set with no devices, got %d %v", resp.StatusCode, body)
	}
	_, device := a.do(t, http.MethodPost, "/api/admin/devices", a.adminToken, map[string]any{"name": "Gate", "price": 10})
	resp, body = a.do(t, http.MethodPost, "/api/admin/ota/releases/"+releaseID+"/deploy", a.adminToken, map[string]any{"device_ids": []any{device["id"]}})
	if resp.StatusCode != http.StatusOK || body["device_count"].(float64) != 1 {
		t.Fatalf("unexpected deployment: %d %v", resp.StatusCode, body)
	}
	resp, body = a.do(t, http.MethodGet, "/api/admin/devices/"+device["id"].(string), a.adminToken, nil)
	if resp.StatusCode != http.StatusOK || body["ota_status"] != "pending" {
		t.Fatalf("expected pending ota status, got %v", body)
	}
}

func TestSupportAndNotificationsOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.signUp(t, "help@example.com")
	otherToken, _ := a.signUp(t, "other@example.com")

	resp, ticket := a.do(t, http.MethodPost, "/api/me/tickets", token, map[string]string{"subject": "Stuck", "message": "Door closed"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create ticket: %d %v", resp.StatusCode, ticket)
	}
	ticketID := ticket["id"].(string)
	if resp, _ := a.do(t, http.MethodGet, "/api/me/tickets/"+ticketID+"/chat", otherToken, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign ticket, got %d", resp.StatusCode)
	}
	if resp, body := a.do(t, http.MethodPost, "/api/admin/tickets/"+ticketID+"/reply", a.adminToken, map[string]string{"message": "On it"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin reply: %d %v", resp.StatusCode, body)
	}
	if resp, _ := a.do(t, http.MethodPost, "/api/admin/tickets/"+ticketID+"/resolve", a.adminToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d", resp.StatusCode)
	}
	resp, body := a.do(t, http.MethodPost, "/api/me/tickets/"+ticketID+"/replies", token, map[string]string{"message": "thanks"})
	if resp.StatusCode != http.StatusConflict || body["error"] != "ticket_closed" {
		t.Fatalf("expected ticket_closed, got %d %v", resp.StatusCode, body)
	}

	if resp, body := a.do(t, http.MethodPost, "/api/admin/notifications", a.adminToken, map[string]string{"title": "Hi", "message": "all"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("broadcast: %d %v", resp.StatusCode, body)
	}
	resp, feed := a.do(t, http.MethodGet, "/api/me/notifications", token, nil)
	if resp.StatusCode != http.StatusOK || feed["unread"].(float64) != 2 {
		t.Fatalf("expected support reply and broadcast unread, got %v", feed)
	}
	if resp, _ := a.do(t, http.MethodPost, "/api/me/notifications/read-all", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("read-all: %d", resp.StatusCode)
	}
	_, feed = a.do(t, http.MethodGet, "/api/me/notifications", token, nil)
	if feed["unread"].(float64) != 0 {
		t.Fatalf("expected all read, got %v", feed)
	}
	_, otherFeed := a.do(t, http.MethodGet, "/api/me/notifications", otherToken, nil)
	if otherFeed["unread"].(float64) != 1 {
		t.Fatalf("expected broadcast still unread for other customer, got %v", otherFeed)
	}
}

func TestEventStreamScopedToCaller(t *testing.T) {
	a := newTestAPI(t)
	token, id := a.signUp(t, "stream@example.com")
	_, otherID := a.signUp(t, "quiet@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, a.url+"/api/events?access_token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	a.do(t, http.MethodPost, "/api/admin/customers/"+otherID+"/balance", a.adminToken, map[string]any{"amount": 5})
	a.do(t, http.MethodPost, "/api/admin/customers/"+id+"/balance", a.adminToken, map[string]any{"amount": 5})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt realtime.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.OwnerID != "" && evt.OwnerID != id {
			t.Fatalf("received another profile's event: %+v", evt)
		}
		if evt.Table == realtime.TableProfiles {
			return
		}
	}
	t.Fatalf("stream ended without own event: %v", scanner.Err())
}

func TestEventFilter(t *testing.T) {
	admin := &repo.Profile{ID: "a", Role: repo.RoleAdmin}
	customer := &repo.Profile{ID: "c", Role: repo.RoleCustomer}

	if f := eventFilter(admin, nil); len(f.Tables) != 0 || f.OwnerID != "" {
		t.Fatalf("expected unrestricted admin filter, got %+v", f)
	}
	f := eventFilter(customer, []string{realtime.TableCommands, realtime.TableDevices})
	if len(f.Tables) != 1 || f.Tables[0] != realtime.TableDevices || f.OwnerID != "c" {
		t.Fatalf("unexpected customer filter %+v", f)
	}
	if f := eventFilter(customer, []string{realtime.TableReleases}); f.Match(realtime.Event{Table: realtime.TableReleases}) {
		t.Fatal("expected customer to be denied release events")
	}
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	a := newTestAPI(t)
	a.do(t, http.MethodGet, "/api/admin/devices/missing", a.adminToken, nil)
	got := testutil.ToFloat64(a.metrics.HTTPRequests.WithLabelValues("GET /api/admin/devices/{id}", "404"))
	if got != 1 {
		t.Fatalf("expected one recorded 404 for the route pattern, got %v", got)
	}
}

func TestKiosksNearbyFollowsDeviceEvents(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.signUp(t, "walker@example.com")

	for _, query := range []string{"lat=200&lng=0", "lat=NaN&lng=0", "lat=0&lng=nan", "lat=Inf&lng=0"} {
		if resp, body := a.do(t, http.MethodGet, "/api/kiosks?"+query, token, nil); resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_coordinates" {
			t.Fatalf("%s: expected invalid_coordinates, got %d %v", query, resp.StatusCode, body)
		}
	}

	resp, device := a.do(t, http.MethodPost, "/api/admin/devices", a.adminToken, map[string]any{
		"name": "Campus", "price": 20, "latitude": -6.2, "longitude": 106.8,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create device: %d %v", resp.StatusCode, device)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := a.do(t, http.MethodGet, "/api/kiosks?lat=-6.25&lng=106.8", token, nil)
		if kiosks, _ := body["kiosks"].([]any); len(kiosks) == 1 {
			nearest, _ := body["nearest"].(map[string]any)
			if nearest == nil || nearest["id"] != device["id"] {
				t.Fatalf("expected new kiosk as nearest, got %v", body)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory never picked up the new kiosk: %v", body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
