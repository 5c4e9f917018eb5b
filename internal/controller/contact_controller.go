// internal/controller/contact_controller.go
package controller

import (
	"net/http"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

type ContactController struct {
	ContactRepo repository.ContactRepositoryInterface
}

func (c *ContactController) ListContacts(w http.ResponseWriter, r *http.Request) {
	var (
		contacts []model.Contact
		err      error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		contacts, err = c.ContactRepo.ListByTag(tag)
	} else {
		contacts, err = c.ContactRepo.ListAll()
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})
}
