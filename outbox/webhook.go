// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	errs "github.com/pkg/errors"
)

// WebhookSyncer delivers outbox entries to a remote system by POSTing each
// entry as JSON to a configured URL. A 2xx response is the remote
// acknowledgment. The remote consumer is expected to deduplicate on the
// entry id since redelivery is possible.
type WebhookSyncer struct {
	url    string
	client *http.Client
}

// NewWebhookSyncer returns a Syncer that posts entries to url.
func NewWebhookSyncer(url string) *WebhookSyncer {
	return &WebhookSyncer{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Sync satisfies the Syncer interface.
func (w *WebhookSyncer) Sync(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errs.WithStack(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.url, bytes.NewReader(b))
	if err != nil {
		return errs.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return errs.WithStack(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errs.WithStack(fmt.Errorf("webhook status %v",
			res.StatusCode))
	}
	return nil
}
