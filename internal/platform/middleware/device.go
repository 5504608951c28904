package middleware

import (
	"context"
	"net/http"

	"github.com/mssola/useragent"
)

// Device summarizes the caller's client for audit enrichment. Sensitive
// operations record which device family an operator acted from; raw
// User-Agent strings stay out of the audit trail.
type Device struct {
	Browser  string
	OS       string
	Mobile   bool
	Bot      bool
}

// Describe renders a compact descriptor like "Firefox/Linux" for audit
// operation detail.
func (d Device) Describe() string {
	if d.Bot {
		return "bot"
	}
	if d.Browser == "" && d.OS == "" {
		return "unknown"
	}
	return d.Browser + "/" + d.OS
}

type contextKeyDevice struct{}

var deviceKey = contextKeyDevice{}

// DeviceInfo parses the User-Agent header once per request and stashes the
// summary in the context.
func DeviceInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := useragent.New(r.Header.Get("User-Agent"))
		browser, _ := ua.Browser()
		device := Device{
			Browser: browser,
			OS:      ua.OSInfo().Name,
			Mobile:  ua.Mobile(),
			Bot:     ua.Bot(),
		}
		ctx := context.WithValue(r.Context(), deviceKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetDevice retrieves the parsed device summary, zero value when absent.
func GetDevice(ctx context.Context) Device {
	device, ok := ctx.Value(deviceKey).(Device)
	if !ok {
		return Device{}
	}
	return device
}
