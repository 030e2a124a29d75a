package bridge

import (
	"encoding/json"
	"fmt"
)

// Binding maps a tool server to the vault service whose credential it needs
// and the HTTP header that carries it.
type Binding struct {
	Service string
	Header  string
}

// formatHeaderValue renders a decrypted credential as the header value a
// service expects. Formats differ per integration: OAuth services take a
// bearer token, some take the raw token JSON, others a single API key field.
func formatHeaderValue(service string, data []byte) (string, error) {
	switch service {
	case "google":
		token, err := jsonField(data, "access_token")
		if err != nil {
			return "", fmt.Errorf("google credential: %w", err)
		}
		return "Bearer " + token, nil
	case "garmin":
		// The server consumes the whole token payload.
		return string(data), nil
	case "splitwise":
		key, err := jsonField(data, "api_key")
		if err != nil {
			return "", fmt.Errorf("splitwise credential: %w", err)
		}
		return key, nil
	default:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			// Not JSON: treat the bytes as the key itself.
			return string(data), nil
		}
		for _, name := range []string{"api_key", "token"} {
			if value, ok := fields[name].(string); ok && value != "" {
				return value, nil
			}
		}
		return string(data), nil
	}
}

func jsonField(data []byte, name string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("parse token payload: %w", err)
	}
	value, ok := fields[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("token payload missing %q", name)
	}
	return value, nil
}
