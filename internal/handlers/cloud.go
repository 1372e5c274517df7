package handlers

import "net/http"

// CloudHandler lists objects in durable storage.
type CloudHandler struct {
	Objects ObjectStore
}

// Files implements GET /api/cloud/files.
func (h CloudHandler) Files(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Objects == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, errCloudUnavailable)
		return
	}
	objects, err := h.Objects.List(ctx)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, objects)
}
