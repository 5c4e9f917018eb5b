// internal/controller/queue_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
)

type QueueController struct {
	Dispatcher dispatch.Dispatcher
}

func (c *QueueController) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.Dispatcher.Stats(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (c *QueueController) PauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := c.Dispatcher.Pause(); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"paused": true})
}

func (c *QueueController) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := c.Dispatcher.Resume(); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"paused": false})
}

func (c *QueueController) ClearQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IncludeActive bool `json:"include_active"`
	}
	// empty body means ready jobs only
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := c.Dispatcher.Clear(body.IncludeActive); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"cleared": true, "include_active": body.IncludeActive})
}
