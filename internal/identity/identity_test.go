package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToucher struct {
	mu      sync.Mutex
	touched []string
	err     error
}

func (f *fakeToucher) TouchDevice(_ context.Context, deviceID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, deviceID)
	return f.err
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var deviceID, tabID string
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deviceID = DeviceIDFromContext(r.Context())
		tabID = TabIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, deviceID, tabID
}

func TestMiddlewareMintsDeviceID(t *testing.T) {
	toucher := &fakeToucher{}
	rr, deviceID, tabID := serve(t, Middleware(toucher, true), httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(deviceID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTabID, tabID)
	assert.Equal(t, []string{deviceID}, toucher.touched)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DeviceCookieName, cookies[0].Name)
	assert.Equal(t, deviceID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Secure)
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	existing := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: existing})
	req.Header.Set(TabHeaderName, "tab-42")

	rr, deviceID, tabID := serve(t, Middleware(nil, false), req)
	assert.Equal(t, existing, deviceID)
	assert.Equal(t, "tab-42", tabID)
	assert.True(t, rr.Result().Cookies()[0].Secure)
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?tab_id=bad%20tab", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "../../etc"})

	_, deviceID, tabID := serve(t, Middleware(nil, true), req)
	assert.NotEqual(t, "../../etc", deviceID)
	assert.True(t, isValidDeviceID(deviceID))
	assert.Equal(t, DefaultTabID, tabID)
}

func TestMiddlewareToleratesTouchFailure(t *testing.T) {
	toucher := &fakeToucher{err: errors.New("db down")}
	_, deviceID, _ := serve(t, Middleware(toucher, true), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, deviceID)
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, DeviceIDFromContext(ctx))
	assert.Equal(t, DefaultTabID, TabIDFromContext(ctx))

	ctx = WithDeviceID(ctx, "dev", "")
	assert.Equal(t, "dev", DeviceIDFromContext(ctx))
	assert.Equal(t, DefaultTabID, TabIDFromContext(ctx))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", IPFromRequest(req))

	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", IPFromRequest(req))
}
