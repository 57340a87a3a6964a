package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

// Notifier posts fall alerts to an ntfy topic URL.
type Notifier struct {
	client   *http.Client
	endpoint string
	title    string
}

func NewNotifier(client *http.Client, endpoint, title string) *Notifier {
	return &Notifier{client: client, endpoint: endpoint, title: title}
}

// Alert sends a high-priority notification describing snap.
func (n *Notifier) Alert(ctx context.Context, snap telemetry.Snapshot) error {
	headers := http.Header{}
	if n.title != "" {
		headers.Set("Title", n.title)
	}
	headers.Set("Priority", "urgent")
	headers.Set("Tags", "rotating_light")
	return Send(ctx, n.client, n.endpoint, FallMessage(snap), headers)
}

// FallMessage renders the alert body from the vitals present in snap.
func FallMessage(snap telemetry.Snapshot) string {
	var b strings.Builder
	b.WriteString("Fall detected at ")
	b.WriteString(time.UnixMilli(snap.Timestamp).UTC().Format(time.RFC3339))
	b.WriteString(".")
	if snap.HeartRate != nil {
		b.WriteString(" Heart rate " + formatFloat(*snap.HeartRate) + " bpm.")
	}
	if snap.SpO2 != nil {
		b.WriteString(" SpO2 " + formatFloat(*snap.SpO2) + "%.")
	}
	if snap.Temperature != nil {
		b.WriteString(" Temperature " + formatFloat(*snap.Temperature) + " C.")
	}
	if snap.Latitude != nil && snap.Longitude != nil {
		b.WriteString(" Location " + formatFloat(*snap.Latitude) + "," + formatFloat(*snap.Longitude) + ".")
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string, headers http.Header) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
