package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"personas-registry/internal/domain"
	"personas-registry/internal/service"
)

type createPersonaRequest struct {
	RUT        string `json:"rut" binding:"required"`
	Nombre     string `json:"nombre" binding:"required"`
	Apellido   string `json:"apellido" binding:"required"`
	IDReligion *int   `json:"id_religion" binding:"required"`
}

type updatePersonaRequest struct {
	Nombre     string `json:"nombre" binding:"required"`
	Apellido   string `json:"apellido" binding:"required"`
	IDReligion *int   `json:"id_religion" binding:"required"`
}

type verifyReligionRequest struct {
	IDReligion *int `json:"id_religion" binding:"required"`
}

type PersonaResponse struct {
	PublicID string `json:"public_id"`
	RUTToken string `json:"rut_token"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
}

func (h *Handler) createPersona(c *gin.Context) {
	var req createPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.personas.Create(c.Request.Context(), service.PersonaInput{
		RUT:        req.RUT,
		FirstName:  req.Nombre,
		LastName:   req.Apellido,
		ReligionID: *req.IDReligion,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, personaToResponse(*view))
}

func (h *Handler) listPersonas(c *gin.Context) {
	views, err := h.personas.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]PersonaResponse, len(views))
	for i := range views {
		resp[i] = personaToResponse(views[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getPersona(c *gin.Context) {
	view, err := h.personas.Get(c.Request.Context(), c.Param("public_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, personaToResponse(*view))
}

func (h *Handler) updatePersona(c *gin.Context) {
	var req updatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.personas.Update(c.Request.Context(), c.Param("public_id"), service.PersonaUpdate{
		FirstName:  req.Nombre,
		LastName:   req.Apellido,
		ReligionID: *req.IDReligion,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, personaToResponse(*view))
}

func (h *Handler) deletePersona(c *gin.Context) {
	if err := h.personas.Delete(c.Request.Context(), c.Param("public_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) verifyReligion(c *gin.Context) {
	var req verifyReligionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	match, err := h.personas.VerifyReligion(c.Request.Context(), c.Param("public_id"), *req.IDReligion)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}

func personaToResponse(view domain.PersonaView) PersonaResponse {
	return PersonaResponse{
		PublicID: view.PublicID,
		RUTToken: view.RUTToken,
		Nombre:   view.FirstName,
		Apellido: view.LastName,
	}
}
