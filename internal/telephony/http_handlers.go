package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"callintel/internal/calls"
	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers convert telephony webhooks into call lifecycle events and
// hand finished, recorded calls to the pipeline.
type WebhookHandlers struct {
	Calls   CallStore
	Trigger Trigger

	// PublicBaseURL prefixes the callback URLs written into TwiML.
	PublicBaseURL string
	// Forward maps a department to a dial target.
	Forward map[string]string
	// Greeting is spoken before voicemail when a department has no dial target.
	Greeting string
}

const defaultGreeting = "Thank you for calling. Please leave a message after the tone."

// Voice serves POST /webhooks/telephony/voice.
func (h WebhookHandlers) Voice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioCall(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.CallStatus == "" {
		form.CallStatus = "ringing"
	}

	call, err := h.Calls.ApplyEvent(c.Request.Context(), form.ToEvent())
	if err != nil {
		log.Error("register inbound call failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call registration failed"})
		return
	}

	res := h.plan(call)
	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	log.Info("inbound call registered", "call_id", call.ID, "department", call.Department, "action", res.Action)

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookHandlers) plan(call calls.Call) InboundCallResult {
	base := strings.TrimRight(h.PublicBaseURL, "/")
	res := InboundCallResult{CallID: call.ID}
	if base != "" {
		res.StatusCallback = base + "/webhooks/telephony/status"
		res.RecordingCallback = base + "/webhooks/telephony/recording"
	}
	if target := strings.TrimSpace(h.Forward[call.Department]); target != "" {
		res.Action = InboundCallActionConnect
		res.ConnectTo = target
		return res
	}
	res.Action = InboundCallActionRecord
	res.Greeting = h.Greeting
	if res.Greeting == "" {
		res.Greeting = defaultGreeting
	}
	return res
}

// Status serves POST /webhooks/telephony/status.
func (h WebhookHandlers) Status(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioCall(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	call, err := h.Calls.ApplyEvent(c.Request.Context(), form.ToEvent())
	if err != nil {
		if errors.Is(err, calls.ErrInvalidEvent) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("apply status event failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	h.trigger(c, call)
	c.Status(http.StatusNoContent)
}

// Recording serves POST /webhooks/telephony/recording.
func (h WebhookHandlers) Recording(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioRecording(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("recording webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !form.Completed() {
		log.Info("recording not ready", "call_sid", form.CallSid, "status", form.RecordingStatus)
		c.Status(http.StatusNoContent)
		return
	}

	call, err := h.Calls.AttachRecording(c.Request.Context(), form.CallSid, form.ToRecording())
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
			return
		}
		log.Error("attach recording failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recording update failed"})
		return
	}
	h.trigger(c, call)
	c.Status(http.StatusNoContent)
}

func (h WebhookHandlers) trigger(c *gin.Context, call calls.Call) {
	if h.Trigger == nil {
		return
	}
	// The run outlives the webhook request.
	h.Trigger.Trigger(context.WithoutCancel(c.Request.Context()), call)
}
