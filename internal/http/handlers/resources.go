package handlers

import (
	"net/http"

	"github.com/wolfman30/wellbeing-platform/internal/resources"
)

// ResourcesHandler serves GET /v1/resources.
type ResourcesHandler struct {
	directory *resources.Directory
}

func NewResourcesHandler(directory *resources.Directory) *ResourcesHandler {
	if directory == nil {
		directory = resources.NewDirectory()
	}
	return &ResourcesHandler{directory: directory}
}

// List returns hotlines and websites, regional hotline first when the
// location query names a known region.
// GET /v1/resources?location=XX
func (h *ResourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.GetCrisisResources(r.URL.Query().Get("location")))
}
