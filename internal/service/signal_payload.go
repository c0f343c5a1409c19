package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/clipzy/clipzy-server/internal/model"
)

// validateSignalData checks that data is a plausible payload for a signal
// of type t. Offers and answers must be session descriptions whose SDP
// parses. ICE payloads are accepted either bare or wrapped the way
// simple-peer wraps them ({"type":"candidate","candidate":{...}}); other
// peer control objects pass as long as they are JSON objects.
func validateSignalData(t model.SignalType, data json.RawMessage) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("must be a JSON object")
	}

	switch t {
	case model.SignalTypeOffer, model.SignalTypeAnswer:
		return validateSessionDescription(t, trimmed)
	case model.SignalTypeICECandidate:
		return validateICEPayload(trimmed)
	}
	return fmt.Errorf("unsupported signal type %q", t)
}

func validateSessionDescription(t model.SignalType, data []byte) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("not a session description: %w", err)
	}
	if sd.Type.String() != string(t) {
		return fmt.Errorf("session description type %q does not match %q", sd.Type.String(), t)
	}
	if strings.TrimSpace(sd.SDP) == "" {
		return fmt.Errorf("sdp is empty")
	}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("sdp does not parse: %w", err)
	}
	return nil
}

func validateICEPayload(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("must be a JSON object")
	}

	raw, ok := fields["candidate"]
	if !ok {
		return nil
	}

	candidate := data
	if nested := bytes.TrimSpace(raw); len(nested) > 0 && nested[0] == '{' {
		candidate = nested
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("not an ICE candidate: %w", err)
	}
	return nil
}
