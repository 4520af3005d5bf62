package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the inbound flow needs are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName                      xml.Name  `xml:"Dial"`
	Record                       string    `xml:"record,attr,omitempty"`
	RecordingStatusCallback      string    `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackEvent string    `xml:"recordingStatusCallbackEvent,attr,omitempty"`
	Number                       *twimlNum `xml:"Number,omitempty"`
	Sip                          *twimlSip `xml:"Sip,omitempty"`
}

type twimlNum struct {
	StatusCallback      string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent string `xml:"statusCallbackEvent,attr,omitempty"`
	Value               string `xml:",chardata"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlRecord struct {
	XMLName                 xml.Name `xml:"Record"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                bool     `xml:"playBeep,attr"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
}

// voicemailMaxSeconds bounds a voicemail recording.
const voicemailMaxSeconds = 300

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse

	switch res.Action {
	case InboundCallActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case InboundCallActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case InboundCallActionConnect:
		if strings.TrimSpace(res.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		d := twimlDial{
			Record:                  "record-from-answer-dual",
			RecordingStatusCallback: res.RecordingCallback,
		}
		if res.RecordingCallback != "" {
			d.RecordingStatusCallbackEvent = "completed"
		}
		// Prefer SIP if it looks like sip:... otherwise treat as a PSTN number.
		if strings.HasPrefix(strings.ToLower(res.ConnectTo), "sip:") {
			d.Sip = &twimlSip{URI: res.ConnectTo}
		} else {
			n := &twimlNum{Value: res.ConnectTo, StatusCallback: res.StatusCallback}
			if res.StatusCallback != "" {
				n.StatusCallbackEvent = "answered completed"
			}
			d.Number = n
		}
		r.Verbs = append(r.Verbs, d)
	case InboundCallActionRecord:
		if res.Greeting != "" {
			r.Verbs = append(r.Verbs, twimlSay{Text: res.Greeting})
		}
		r.Verbs = append(r.Verbs, twimlRecord{
			MaxLength:               voicemailMaxSeconds,
			PlayBeep:                true,
			RecordingStatusCallback: res.RecordingCallback,
		})
	default:
		return "", errors.New("telephony: unknown inbound action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
