package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"nostr_magiclink/internal/event"
)

// Client to relay labels.
const (
	LabelEvent = "EVENT"
	LabelReq   = "REQ"
	LabelClose = "CLOSE"
)

// Relay to client labels.
const (
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
)

var errMalformedFrame = errors.New("malformed frame")

// Frame is a decoded client message.
type Frame struct {
	Label          string
	Event          event.SignedEvent
	SubscriptionID string
	Filters        []event.Filter
}

func parseFrame(raw []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 2 {
		return Frame{}, errMalformedFrame
	}
	var f Frame
	if err := json.Unmarshal(parts[0], &f.Label); err != nil {
		return Frame{}, errMalformedFrame
	}

	switch f.Label {
	case LabelEvent:
		if err := json.Unmarshal(parts[1], &f.Event); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
		}
	case LabelReq, LabelClose:
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil || f.SubscriptionID == "" {
			return Frame{}, errMalformedFrame
		}
		for _, p := range parts[2:] {
			var filter event.Filter
			if err := json.Unmarshal(p, &filter); err != nil {
				return Frame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
			}
			f.Filters = append(f.Filters, filter)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown label %q", errMalformedFrame, f.Label)
	}
	return f, nil
}

func okFrame(id string, accepted bool, message string) []byte {
	b, _ := json.Marshal([]any{LabelOK, id, accepted, message})
	return b
}

func eventFrame(subID string, ev event.SignedEvent) []byte {
	if ev.Tags == nil {
		ev.Tags = event.Tags{}
	}
	b, _ := json.Marshal([]any{LabelEvent, subID, ev})
	return b
}

func eoseFrame(subID string) []byte {
	b, _ := json.Marshal([]any{LabelEOSE, subID})
	return b
}

func noticeFrame(message string) []byte {
	b, _ := json.Marshal([]any{LabelNotice, message})
	return b
}
