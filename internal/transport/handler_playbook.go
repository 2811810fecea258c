package transport

import (
	"net/http"
	"sort"

	"github.com/halcyonix/playbook/model"
)

// playbookSummary is the catalog view of a playbook. Step internals are not
// exposed; callers only need enough to start an execution.
type playbookSummary struct {
	ID         string                         `json:"id"`
	Name       string                         `json:"name"`
	Version    int                            `json:"version"`
	Visibility string                         `json:"visibility"`
	StepCount  int                            `json:"step_count"`
	Inputs     map[string]model.InputVariable `json:"inputs,omitempty"`
}

type playbookListResponse struct {
	Playbooks []playbookSummary `json:"playbooks"`
}

// listPlaybooks handles GET /v1/playbooks. Private playbooks are listed only
// for their owner or an admin.
func (h *handlers) listPlaybooks(w http.ResponseWriter, r *http.Request) {
	actx := model.AuthContextFrom(r.Context())
	if actx == nil {
		WriteError(w, model.NewUnauthorizedError("Authentication required"))
		return
	}

	all := h.catalog.AllPlaybooks()
	summaries := make([]playbookSummary, 0, len(all))
	for _, pb := range all {
		if pb.Visibility == "private" && !actx.CanActOn(pb.OwnerID) {
			continue
		}
		summaries = append(summaries, playbookSummary{
			ID:         pb.ID,
			Name:       pb.Name,
			Version:    pb.Version,
			Visibility: pb.Visibility,
			StepCount:  len(pb.Steps),
			Inputs:     pb.Inputs,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	WriteJSON(w, http.StatusOK, playbookListResponse{Playbooks: summaries})
}
