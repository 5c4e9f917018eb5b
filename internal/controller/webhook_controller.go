// internal/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
)

// WebhookController is the correlation entry point for inbound delivery
// acknowledgements. The gateway's own webhook protocol is translated outside
// this service; callers post the already-extracted provider id and level.
type WebhookController struct {
	Tracker *tracker.Tracker
}

func (c *WebhookController) ReceiveAck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderMessageID string `json:"provider_message_id"`
		Status            string `json:"status"` // delivered, read, failed
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	if err := c.Tracker.RecordAck(body.ProviderMessageID, model.DeliveryStatus(body.Status)); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"acknowledged": true})
}
