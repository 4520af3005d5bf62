package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"callintel/internal/calls"

	"github.com/gin-gonic/gin"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []calls.Call
}

func (r *recordingTrigger) Trigger(ctx context.Context, c calls.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func newWebhookRouter() (*gin.Engine, *calls.Service, *recordingTrigger) {
	gin.SetMode(gin.TestMode)
	svc := calls.NewService(calls.NewMemoryRepo(), "support", map[string]string{"+15557654321": "sales"})
	trig := &recordingTrigger{}
	h := WebhookHandlers{
		Calls:         svc,
		Trigger:       trig,
		PublicBaseURL: "https://svc.example",
		Forward:       map[string]string{"sales": "+15550009999"},
	}
	r := gin.New()
	r.POST("/webhooks/telephony/voice", h.Voice)
	r.POST("/webhooks/telephony/status", h.Status)
	r.POST("/webhooks/telephony/recording", h.Recording)
	return r, svc, trig
}

func send(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(path, body))
	return w
}

func TestVoice_DialsDepartment(t *testing.T) {
	r, svc, _ := newWebhookRouter()

	w := send(r, "/webhooks/telephony/voice", "CallSid=CA1&From=%2B15551234567&To=%2B15557654321&Direction=inbound")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), ">+15550009999</Number>") {
		t.Fatalf("expected dial to sales: %s", w.Body.String())
	}

	list, total, _ := svc.List(context.Background(), calls.ListFilter{Limit: 10})
	if total != 1 || list[0].Status != calls.StatusOngoing || list[0].Department != "sales" {
		t.Fatalf("unexpected calls: %+v", list)
	}
}

func TestVoice_VoicemailWithoutForward(t *testing.T) {
	r, _, _ := newWebhookRouter()
	w := send(r, "/webhooks/telephony/voice", "CallSid=CA2&From=%2B1&To=%2B19990000")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Record") {
		t.Fatalf("expected voicemail twiml, got %d %s", w.Code, w.Body.String())
	}
}

func TestStatusAndRecording_TriggerPipeline(t *testing.T) {
	r, _, trig := newWebhookRouter()

	send(r, "/webhooks/telephony/voice", "CallSid=CA3&From=%2B1&To=%2B15557654321")
	if w := send(r, "/webhooks/telephony/recording", "CallSid=CA3&RecordingSid=RE3&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2FRE3&RecordingStatus=completed"); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := send(r, "/webhooks/telephony/status", "CallSid=CA3&CallStatus=completed&CallDuration=30"); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	if len(trig.calls) != 2 {
		t.Fatalf("expected 2 trigger notifications, got %d", len(trig.calls))
	}
	last := trig.calls[1]
	if last.Status != calls.StatusCompleted || last.Recording == nil || last.Recording.SID != "RE3" {
		t.Fatalf("unexpected triggered call: %+v", last)
	}
}

func TestStatus_RejectsBadInput(t *testing.T) {
	r, _, _ := newWebhookRouter()
	if w := send(r, "/webhooks/telephony/status", "CallStatus=completed"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without CallSid, got %d", w.Code)
	}
	if w := send(r, "/webhooks/telephony/status", "CallSid=CA9&CallStatus=exploded"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := send(r, "/webhooks/telephony/recording", "CallSid=CA404&RecordingUrl=https%3A%2F%2Fx"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}
