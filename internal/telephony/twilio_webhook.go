package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"callintel/internal/calls"
)

// Twilio sends application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Parsing only. Lifecycle decisions live in calls.Service.

type TwilioCallForm struct {
	CallSid           string
	AccountSid        string
	From              string
	To                string
	Direction         string
	CallStatus        string
	CallDuration      int
	RecordingURL      string
	RecordingSid      string
	RecordingDuration int
	CallerName        string
	ForwardedFrom     string
}

// ParseTwilioCall reads the fields shared by the voice and status webhooks.
func ParseTwilioCall(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	f := TwilioCallForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:        r.PostFormValue("AccountSid"),
		From:              normalizePhone(r.PostFormValue("From")),
		To:                normalizePhone(r.PostFormValue("To")),
		Direction:         r.PostFormValue("Direction"),
		CallStatus:        r.PostFormValue("CallStatus"),
		CallDuration:      atoi(r.PostFormValue("CallDuration")),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingDuration: atoi(r.PostFormValue("RecordingDuration")),
		CallerName:        r.PostFormValue("CallerName"),
		ForwardedFrom:     normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	return f, nil
}

type TwilioRecordingForm struct {
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration int
}

func ParseTwilioRecording(r *http.Request) (TwilioRecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioRecordingForm{}, err
	}
	return TwilioRecordingForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus:   r.PostFormValue("RecordingStatus"),
		RecordingDuration: atoi(r.PostFormValue("RecordingDuration")),
	}, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (f TwilioCallForm) ToEvent() calls.Event {
	e := calls.Event{
		ExternalID:     f.CallSid,
		From:           f.From,
		To:             f.To,
		Direction:      f.Direction,
		ProviderStatus: f.CallStatus,
		Duration:       f.CallDuration,
	}
	if f.RecordingURL != "" {
		e.Recording = &calls.Recording{
			URL:      f.RecordingURL,
			SID:      f.RecordingSid,
			Duration: f.RecordingDuration,
			Format:   "mp3",
		}
	}
	return e
}

// Completed reports whether the recording is ready to download.
func (f TwilioRecordingForm) Completed() bool {
	return f.RecordingURL != "" && (f.RecordingStatus == "" || strings.EqualFold(f.RecordingStatus, "completed"))
}

func (f TwilioRecordingForm) ToRecording() calls.Recording {
	return calls.Recording{
		URL:      f.RecordingURL,
		SID:      f.RecordingSid,
		Duration: f.RecordingDuration,
		Format:   "mp3",
	}
}
