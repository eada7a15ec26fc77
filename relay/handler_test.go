package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeBackend struct {
	testCalls     int
	validateCalls int
	result        bool
	err           error
	lastChatID    string
}

func (f *fakeBackend) SendTest(_ context.Context, chatID string) (bool, error) {
	f.testCalls++
	f.lastChatID = chatID
	return f.result, f.err
}

func (f *fakeBackend) Validate(_ context.Context, chatID string) (bool, error) {
	f.validateCalls++
	f.lastChatID = chatID
	return f.result, f.err
}

func postRelay(handler *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/notify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestHandler_TestAction(t *testing.T) {
	backend := &fakeBackend{result: true}
	handler := NewHandler(backend)

	rec := postRelay(handler, `{"action": "test", "chatId": "12345"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())
	assert.Equal(t, 1, backend.testCalls)
	assert.Equal(t, 0, backend.validateCalls)
	assert.Equal(t, "12345", backend.lastChatID)
}

func TestHandler_ValidateAction(t *testing.T) {
	backend := &fakeBackend{result: true}
	handler := NewHandler(backend)

	rec := postRelay(handler, `{"action": "validate", "chatId": "12345"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isValid": true}`, rec.Body.String())
	assert.Equal(t, 0, backend.testCalls)
	assert.Equal(t, 1, backend.validateCalls)
}

func TestHandler_UnknownActionRejected(t *testing.T) {
	backend := &fakeBackend{}
	handler := NewHandler(backend)

	rec := postRelay(handler, `{"action": "explode", "chatId": "12345"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, backend.testCalls)
	assert.Equal(t, 0, backend.validateCalls)
}

func TestHandler_MissingAction(t *testing.T) {
	backend := &fakeBackend{result: true}
	handler := NewHandler(backend)

	rec := postRelay(handler, `{"chatId": "12345"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, backend.testCalls)
	assert.Equal(t, 0, backend.validateCalls)
}

func TestHandler_MissingChatID(t *testing.T) {
	handler := NewHandler(&fakeBackend{})

	rec := postRelay(handler, `{"action": "test"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_MalformedBody(t *testing.T) {
	handler := NewHandler(&fakeBackend{})

	rec := postRelay(handler, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler := NewHandler(&fakeBackend{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/notify", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_BackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("delivery service down")}
	handler := NewHandler(backend)

	rec := postRelay(handler, `{"action": "test", "chatId": "12345"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"success": false}`, rec.Body.String())
}

func TestAction_RoundTrip(t *testing.T) {
	for _, action := range []Action{ActionTest, ActionValidate} {
		data, err := json.Marshal(action)
		assert.NoError(t, err)

		var decoded Action
		assert.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, action, decoded)
	}
}

func TestHTTPBackend(t *testing.T) {
	var gotPath string
	var gotBody backendRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/validate" {
			w.Write([]byte(`{"isValid": true}`))
		} else {
			w.Write([]byte(`{"success": true}`))
		}
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL)

	success, err := backend.SendTest(context.Background(), "12345")
	assert.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, "/test", gotPath)
	assert.Equal(t, "12345", gotBody.ChatID)

	isValid, err := backend.Validate(context.Background(), "67890")
	assert.NoError(t, err)
	assert.True(t, isValid)
	assert.Equal(t, "/validate", gotPath)
	assert.Equal(t, "67890", gotBody.ChatID)
}

func TestHTTPBackend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL)

	_, err := backend.SendTest(context.Background(), "12345")
	assert.Error(t, err)
}
