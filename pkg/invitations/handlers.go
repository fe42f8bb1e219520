// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/canonical/identity-service/internal/authorization"
	httptypes "github.com/canonical/identity-service/internal/http/types"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/pkg/authentication"
)

type API struct {
	service    ServiceInterface
	middleware *authentication.Middleware
	validate   *validator.Validate

	logger logging.LoggerInterface
}

func NewAPI(service ServiceInterface, middleware *authentication.Middleware, logger logging.LoggerInterface) *API {
	a := new(API)

	a.service = service
	a.middleware = middleware
	a.validate = validator.New(validator.WithRequiredStructEnabled())
	a.logger = logger

	return a
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Route("/api/v0/invitations", func(r chi.Router) {
		r.Get("/verify/{token}", a.handleVerify)
		r.Post("/accept", a.handleAccept)

		r.Group(func(r chi.Router) {
			r.Use(a.middleware.Authenticate)
			r.Use(a.middleware.Require(authorization.Requirements{
				Roles:       []string{"admin"},
				Permissions: []string{"invitations:create"},
			}))
			r.Post("/", a.handleCreate)
			r.Delete("/{id}", a.handleRevoke)
			r.Post("/{id}/resend", a.handleResend)
		})
	})
}

type createInvitationRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	TenantID string `json:"tenantId" validate:"required,uuid"`
	RoleID   string `json:"roleId" validate:"required,uuid"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	body := new(createInvitationRequest)
	if !a.decode(w, r, body) {
		return
	}

	invitation, token, err := a.service.Create(r.Context(), &CreateRequest{
		Email:       body.Email,
		Name:        body.Name,
		TenantID:    body.TenantID,
		RoleID:      body.RoleID,
		InvitedByID: authentication.GetUserID(r.Context()),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "invitation created", map[string]any{
		"id":        invitation.ID,
		"email":     body.Email,
		"tenantId":  invitation.TenantID,
		"roleId":    invitation.RoleID,
		"token":     token,
		"expiresAt": invitation.ExpiresAt,
	})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Verify(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "invitation valid", map[string]any{
		"email":            result.Email,
		"tenantName":       result.TenantName,
		"roleName":         result.RoleName,
		"requiresPassword": result.RequiresPassword,
		"expiresAt":        result.ExpiresAt,
	})
}

type acceptInvitationRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"omitempty,min=8"`
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	body := new(acceptInvitationRequest)
	if !a.decode(w, r, body) {
		return
	}

	invitation, err := a.service.Accept(r.Context(), body.Token, body.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "invitation accepted", map[string]any{
		"tenantId": invitation.TenantID,
	})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "invitation revoked", nil)
}

func (a *API) handleResend(w http.ResponseWriter, r *http.Request) {
	invitation, token, err := a.service.Resend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "invitation resent", map[string]any{
		"id":        invitation.ID,
		"token":     token,
		"expiresAt": invitation.ExpiresAt,
	})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		httptypes.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := a.validate.Struct(body); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			messages := make([]string, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				messages = append(messages, fe.Field()+" failed validation: "+fe.Tag())
			}
			httptypes.WriteValidationError(w, messages)
		} else {
			httptypes.WriteError(w, http.StatusBadRequest, "invalid request")
		}
		return false
	}
	return true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken), errors.Is(err, ErrTenantInactive),
		errors.Is(err, ErrRoleNotAllowed), errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrPasswordNotAllowed), errors.Is(err, ErrAlreadyRevoked):
		httptypes.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrDuplicateInvitation):
		httptypes.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		httptypes.WriteError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Errorf("request failed: %v", err)
		httptypes.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
