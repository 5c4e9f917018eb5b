// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/wacampaign-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), in)
	if err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusCreated, campaign)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	if err := c.CampaignService.Start(r.Context(), id); err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"campaign_id": id})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	if err := c.CampaignService.Pause(id); err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"campaign_id": id, "status": "paused"})
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	if err := c.CampaignService.Cancel(id); err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"campaign_id": id, "status": "canceled"})
}

func (c *CampaignController) GetCampaignStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := c.CampaignService.Statistics(urlID(r))
	if err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetails(urlID(r))
	if err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, details)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, status)
	if err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"campaigns":  campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContactID        int     `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(urlID(r), body.ContactID, body.OverrideTemplate)
	if err != nil {
		failMapped(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"rendered_message": rendered,
		"contact_id":       body.ContactID,
	})
}

func urlID(r *http.Request) int {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	return id
}
