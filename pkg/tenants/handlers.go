// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenants

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
	mux.Route("/api/v0/tenants", func(r chi.Router) {
		r.Use(a.middleware.Authenticate)

		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Post("/{id}/primary", a.handleSetPrimary)

		r.Group(func(r chi.Router) {
			r.Use(a.middleware.Require(authorization.Requirements{
				Roles:       []string{"admin"},
				Permissions: []string{"tenants:manage"},
			}))
			r.Post("/", a.handleCreate)
			r.Post("/{id}/activate", a.handleActivate)
			r.Post("/{id}/deactivate", a.handleDeactivate)
		})
	})
}

type createTenantRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	SchemaName string `json:"schemaName" validate:"required,max=63"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	body := new(createTenantRequest)
	if !a.decode(w, r, body) {
		return
	}

	tenant, err := a.service.Create(r.Context(), body.Name, body.SchemaName)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "tenant created", tenant)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.service.ListForUser(r.Context(), authentication.GetUserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "ok", tenants)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant, err := a.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "ok", tenant)
}

func (a *API) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	err := a.service.SetPrimary(r.Context(), authentication.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "primary tenant updated", nil)
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	a.setStatus(w, r, true, "tenant activated")
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	a.setStatus(w, r, false, "tenant deactivated")
}

func (a *API) setStatus(w http.ResponseWriter, r *http.Request, active bool, message string) {
	if err := a.service.SetStatus(r.Context(), chi.URLParam(r, "id"), active); err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, message, nil)
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
	case errors.Is(err, ErrInvalidSchemaName):
		httptypes.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateSchemaName):
		httptypes.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotAMember):
		httptypes.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		httptypes.WriteError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Errorf("request failed: %v", err)
		httptypes.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
