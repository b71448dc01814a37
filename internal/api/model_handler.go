package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lmdash/internal/interfaces"
)

// ModelHandler handles HTTP requests that act on a single model.
type ModelHandler struct {
	engine interfaces.Engine
}

func NewModelHandler(engine interfaces.Engine) *ModelHandler {
	return &ModelHandler{engine: engine}
}

// HandleRefreshModels godoc
// @Summary      Reload the model roster
// @Description  Lists models from the inference server and applies stored preferences.
// @Tags         Models
// @Produce      json
// @Success      200  {array}   model.Model
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/models/refresh [post]
func (h *ModelHandler) HandleRefreshModels(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RefreshModels(r.Context()); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.engine.Snapshot().Models)
}

// HandleToggleModel godoc
// @Summary      Enable or disable a model
// @Tags         Models
// @Produce      json
// @Param        modelID  path      string  true  "Model ID"
// @Success      200      {object}  model.Model
// @Failure      404      {object}  ErrorResponse
// @Router       /v1/models/{modelID}/toggle [post]
func (h *ModelHandler) HandleToggleModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.ToggleModel(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// HandleToggleHistory godoc
// @Summary      Toggle whether a model receives prior turns
// @Tags         Models
// @Produce      json
// @Param        modelID  path      string  true  "Model ID"
// @Success      200      {object}  model.Model
// @Failure      404      {object}  ErrorResponse
// @Router       /v1/models/{modelID}/history [post]
func (h *ModelHandler) HandleToggleHistory(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.ToggleModelHistory(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// HandleRetryModel godoc
// @Summary      Retry a model's failed request
// @Description  Re-sends the model's last failed prompt once, without automatic retries.
// @Tags         Models
// @Produce      json
// @Param        modelID  path      string  true  "Model ID"
// @Success      202      {object}  service.Dispatch
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /v1/models/{modelID}/retry [post]
func (h *ModelHandler) HandleRetryModel(w http.ResponseWriter, r *http.Request) {
	dispatch, err := h.engine.RetryModel(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, dispatch)
}

// HandleClearConversation godoc
// @Summary      Clear the active conversation for one model
// @Description  Hides every message so far from this model. Other models keep their view.
// @Tags         Models
// @Param        modelID  path  string  true  "Model ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/models/{modelID}/conversation [delete]
func (h *ModelHandler) HandleClearConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearConversation(r.Context(), chi.URLParam(r, "modelID")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
