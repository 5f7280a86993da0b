package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/i474232898/farmmap/internal/resilience"
)

// maxPayloadBytes bounds how much of an upstream body is decoded.
const maxPayloadBytes = 1 << 20

// Options configures a provider's upstream endpoint and resilience settings.
// An empty BaseURL selects the provider's public endpoint.
type Options struct {
	APIKey     string
	BaseURL    string
	Resilience resilience.Config
}

func (o Options) baseURL(def string) string {
	if o.BaseURL != "" {
		return strings.TrimRight(o.BaseURL, "/")
	}
	return def
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// hasAny reports whether s contains any of the substrings, ignoring case.
func hasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
