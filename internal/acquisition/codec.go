package acquisition

import (
	"encoding/json"
	"errors"
	"fmt"

	"transformer_monitor/internal/models"
)

// maxMessageSize bounds a single push frame or poll body.
const maxMessageSize = 1 << 16 // 64 KB

// ErrMalformedMessage is returned when an inbound payload is not a partial snapshot.
var ErrMalformedMessage = errors.New("malformed telemetry message")

// DecodeSignals parses a JSON object into a partial snapshot.
// Known signals must carry their declared type; unknown keys pass through untouched.
// A null value carries no information and is skipped.
func DecodeSignals(data []byte) (models.Signals, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}

	out := make(models.Signals, len(raw))
	for key, v := range raw {
		if v == nil {
			continue
		}
		switch models.KindOf(key) {
		case models.KindNumber:
			if _, ok := v.(float64); !ok {
				return nil, fmt.Errorf("%w: %q must be a number, got %T", ErrMalformedMessage, key, v)
			}
		case models.KindFlag:
			if _, ok := v.(bool); !ok {
				return nil, fmt.Errorf("%w: %q must be a boolean, got %T", ErrMalformedMessage, key, v)
			}
		}
		out[key] = v
	}
	return out, nil
}
