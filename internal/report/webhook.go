package report

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// WebhookNotifier posts a JSON payload to a configured URL whenever a
// crash is reported to the Sink. Optional and off by default,
// generalized from "send a fuzzing HTTP request to the target" to
// "notify an operator endpoint that a crash artifact was written" —
// the fasthttp Acquire/Release-request idiom is kept verbatim.
type WebhookNotifier struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &fasthttp.Client{},
		timeout: 5 * time.Second,
	}
}

// Notify fires a best-effort POST of line as JSON. Errors are
// swallowed: a webhook outage must never stall or fail a fuzzing
// worker.
func (w *WebhookNotifier) Notify(line CrashLine) {
	body, err := json.Marshal(line)
	if err != nil {
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	_ = w.client.DoTimeout(req, resp, w.timeout)
}
