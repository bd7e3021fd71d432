package qlogmux

import (
	"encoding/json"
	"strings"
)

// Minimize implements the qlog minimization rewrite of spec.md §4.4 ¶3. It
// returns the rewritten event and whether it should still be emitted (false
// means "drop this event entirely").  Minimize is idempotent:
// Minimize(Minimize(x)) == Minimize(x) for any x (spec.md §8 property 5).
func Minimize(ev Event) (out Event, keep bool) {
	switch {
	case ev.Name == "quic:stream_data_moved":
		return ev, false
	case strings.HasPrefix(ev.Name, "meta:"),
		strings.HasPrefix(ev.Name, "loglevel:"):
		ev.Data = stripRaw(ev.Data)

		return ev, true
	case strings.HasSuffix(ev.Name, ":parameters_set"):
		// data.raw is kept for parameters_set events.
		return ev, true
	case strings.HasPrefix(ev.Name, "recovery:"):
		if ev.Name == "recovery:packet_lost" {
			return ev, true
		}

		return ev, false
	case containsAny(ev.Name, "error", "closed", "connection_lost"),
		strings.HasPrefix(ev.Name, "quic:path_"):
		ev.Data = stripRaw(ev.Data)

		return ev, true
	case ev.Name == "quic:packet_sent", ev.Name == "quic:packet_received":
		ev.Data = minimizePacketEvent(ev.Data)

		return ev, true
	default:
		ev.Data = minimizeGenericData(ev.Data)

		return ev, true
	}
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// decodeObject decodes raw as a generic JSON object, returning nil if raw is
// empty or not an object.
func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	return obj
}

// encodeObject re-encodes obj, returning nil if obj is nil.
func encodeObject(obj map[string]json.RawMessage) json.RawMessage {
	if obj == nil {
		return nil
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return nil
	}

	return b
}

// stripRaw drops the top-level "raw" field from a data object.  It does not
// look at the event name; Minimize never calls it for "parameters_set"
// events, whose raw field is kept (spec.md §4.4 ¶3).
func stripRaw(raw json.RawMessage) json.RawMessage {
	obj := decodeObject(raw)
	if obj == nil {
		return raw
	}

	delete(obj, "raw")

	return encodeObject(obj)
}

// rawInfo is the minimized "raw"/"header" shape used by minimizePacketEvent.
type rawInfo struct {
	Length        int `json:"length"`
	PayloadLength int `json:"payload_length"`
}

type packetHeader struct {
	PacketType   string `json:"packet_type,omitempty"`
	PacketNumber int64  `json:"packet_number,omitempty"`
	SCIL         int    `json:"scil,omitempty"`
	DCIL         int    `json:"dcil,omitempty"`
}

type minimizedFrame struct {
	FrameType string `json:"frame_type,omitempty"`
	StreamID  *int64 `json:"stream_id,omitempty"`
}

// minimizePacketEvent reduces a quic:packet_{sent,received} data object to
// {header: {packet_type, packet_number, scil, dcil}, raw: {length,
// payload_length}, frames: [{frame_type, stream_id}]} (spec.md §4.4 ¶3).
func minimizePacketEvent(raw json.RawMessage) json.RawMessage {
	obj := decodeObject(raw)
	if obj == nil {
		return raw
	}

	out := map[string]json.RawMessage{}

	if hdrRaw, ok := obj["header"]; ok {
		var hdr packetHeader
		if err := json.Unmarshal(hdrRaw, &hdr); err == nil {
			if b, err2 := json.Marshal(hdr); err2 == nil {
				out["header"] = b
			}
		}
	}

	if rawRaw, ok := obj["raw"]; ok {
		var ri rawInfo
		if err := json.Unmarshal(rawRaw, &ri); err == nil {
			if b, err2 := json.Marshal(ri); err2 == nil {
				out["raw"] = b
			}
		}
	}

	if framesRaw, ok := obj["frames"]; ok {
		if b := minimizeFrames(framesRaw); b != nil {
			out["frames"] = b
		}
	}

	return encodeObject(out)
}

// minimizeFrames drops "raw", "payload_length", and "length_in_bytes" from
// each frame in a "frames" array, then collapses any frame that has a
// frame_type or stream_id key down to exactly {frame_type, stream_id}
// (spec.md §4.4 ¶3).  Frames with neither key are left as-is, minus the
// dropped fields.
func minimizeFrames(raw json.RawMessage) json.RawMessage {
	var frames []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil
	}

	out := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		delete(f, "raw")
		delete(f, "payload_length")
		delete(f, "length_in_bytes")

		ftRaw, hasType := f["frame_type"]
		sidRaw, hasStream := f["stream_id"]

		if !hasType && !hasStream {
			if b := encodeObject(f); b != nil {
				out = append(out, b)
			}

			continue
		}

		mf := minimizedFrame{}
		if hasType {
			_ = json.Unmarshal(ftRaw, &mf.FrameType)
		}

		if hasStream {
			var sid int64
			if err := json.Unmarshal(sidRaw, &sid); err == nil {
				mf.StreamID = &sid
			}
		}

		b, err := json.Marshal(mf)
		if err != nil {
			continue
		}

		out = append(out, b)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}

	return b
}

// minimizeGenericData applies the default-case rewrite: drop "raw"; within
// "frames", drop "raw", "payload_length", "length_in_bytes" and collapse
// each frame that has a frame_type or stream_id key (spec.md §4.4 ¶3).
func minimizeGenericData(raw json.RawMessage) json.RawMessage {
	obj := decodeObject(raw)
	if obj == nil {
		return raw
	}

	delete(obj, "raw")

	if framesRaw, ok := obj["frames"]; ok {
		if b := minimizeFrames(framesRaw); b != nil {
			obj["frames"] = b
		}
	}

	return encodeObject(obj)
}
