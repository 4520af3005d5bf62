package telephony

import (
	"context"

	"callintel/internal/calls"
	"callintel/internal/providers"
)

// Provider is the telephony boundary used by business logic.
//
// Rules:
// - Provider form fields never leave this package; handlers convert them to calls.Event.
// - Recording audio is fetched through the provider so credentials stay here.
type Provider interface {
	Name() string
	Healthy() bool
	Fetch(ctx context.Context, recordingURL string) (providers.Audio, error)
}

// CallStore is the subset of calls.Service the webhooks drive.
type CallStore interface {
	ApplyEvent(ctx context.Context, e calls.Event) (calls.Call, error)
	AttachRecording(ctx context.Context, externalID string, rec calls.Recording) (calls.Call, error)
	Department(dir calls.Direction, from, to string) string
}

// Trigger starts downstream processing for an updated call.
type Trigger interface {
	Trigger(ctx context.Context, c calls.Call)
}

// InboundCallResult describes what to do with a ringing call.
type InboundCallResult struct {
	CallID string `json:"call_id"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`

	// StatusCallback and RecordingCallback are absolute URLs on this service.
	StatusCallback    string `json:"status_callback,omitempty"`
	RecordingCallback string `json:"recording_callback,omitempty"`

	// Greeting is spoken before a voicemail recording.
	Greeting string `json:"greeting,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionRecord  InboundCallAction = "record"
	InboundCallActionHangup  InboundCallAction = "hangup"
)
