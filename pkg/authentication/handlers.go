// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	httptypes "github.com/canonical/identity-service/internal/http/types"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/pkg/mfa"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

type CookieConfig struct {
	Domain string
	Secure bool
}

type API struct {
	service    ServiceInterface
	middleware *Middleware
	validate   *validator.Validate
	cookies    CookieConfig

	logger logging.LoggerInterface
}

func NewAPI(service ServiceInterface, middleware *Middleware, cookies CookieConfig, logger logging.LoggerInterface) *API {
	a := new(API)

	a.service = service
	a.middleware = middleware
	a.validate = validator.New(validator.WithRequiredStructEnabled())
	a.cookies = cookies
	a.logger = logger

	return a
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Route("/api/v0/auth", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/login/otp", a.handleLoginOtp)
		r.Post("/login/totp", a.handleLoginTotp)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/password/forgot", a.handleForgotPassword)
		r.Post("/password/reset", a.handleResetPassword)
		r.Post("/passkeys/login/begin", a.handlePasskeyLoginBegin)
		r.Post("/passkeys/login/finish", a.handlePasskeyLoginFinish)

		r.Group(func(r chi.Router) {
			r.Use(a.middleware.Authenticate)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
			r.Post("/password/change", a.handleChangePassword)
			r.Post("/totp/setup", a.handleTotpSetup)
			r.Post("/totp/enable", a.handleTotpEnable)
			r.Post("/totp/disable", a.handleTotpDisable)
			r.Post("/passkeys/register/begin", a.handlePasskeyRegisterBegin)
			r.Post("/passkeys/register/finish", a.handlePasskeyRegisterFinish)
			r.Get("/passkeys", a.handleListPasskeys)
			r.Patch("/passkeys/{id}", a.handleRenamePasskey)
			r.Delete("/passkeys/{id}", a.handleRemovePasskey)
		})
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := new(loginRequest)
	if !a.decode(w, r, body) {
		return
	}

	result, err := a.service.Login(r.Context(), body.Email, body.Password, requestMeta(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	if result.RequiresMfa {
		httptypes.WriteJSON(w, http.StatusOK, "mfa required", map[string]any{
			"requiresMfa": true,
			"mfaType":     result.MfaType,
			"email":       result.Email,
			"challenge":   result.Challenge,
		})
		return
	}

	a.writeSession(w, result.Session, "login successful")
}

type loginCodeRequest struct {
	Challenge string `json:"challenge" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

func (a *API) handleLoginOtp(w http.ResponseWriter, r *http.Request) {
	body := new(loginCodeRequest)
	if !a.decode(w, r, body) {
		return
	}

	session, err := a.service.VerifyLoginOtp(r.Context(), body.Challenge, body.Code, requestMeta(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.writeSession(w, session, "login successful")
}

func (a *API) handleLoginTotp(w http.ResponseWriter, r *http.Request) {
	body := new(loginCodeRequest)
	if !a.decode(w, r, body) {
		return
	}

	session, err := a.service.VerifyLoginTotp(r.Context(), body.Challenge, body.Code, requestMeta(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.writeSession(w, session, "login successful")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		body := new(refreshRequest)
		// the body is optional when the cookie is present
		_ = json.NewDecoder(r.Body).Decode(body)
		raw = body.RefreshToken
	}
	if raw == "" {
		httptypes.WriteError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	session, err := a.service.Refresh(r.Context(), raw, requestMeta(r))
	if err != nil {
		a.clearSessionCookies(w)
		a.writeServiceError(w, err)
		return
	}

	a.writeSession(w, session, "token refreshed")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	if err := a.service.Logout(r.Context(), userID); err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.clearSessionCookies(w)
	httptypes.WriteJSON(w, http.StatusOK, "logged out", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userContext, err := a.service.Me(r.Context(), GetUserID(r.Context()), r.URL.Query().Get("tenantId"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "ok", map[string]any{
		"user":    userContext,
		"tenants": userContext.Tenants,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	body := new(forgotPasswordRequest)
	if !a.decode(w, r, body) {
		return
	}

	if err := a.service.ForgotPassword(r.Context(), body.Email); err != nil {
		a.writeServiceError(w, err)
		return
	}

	// same response whether or not the address exists
	httptypes.WriteJSON(w, http.StatusOK, "if the email exists, a reset link has been sent", nil)
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	body := new(resetPasswordRequest)
	if !a.decode(w, r, body) {
		return
	}

	if err := a.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "password reset", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	body := new(changePasswordRequest)
	if !a.decode(w, r, body) {
		return
	}

	err := a.service.ChangePassword(r.Context(), GetUserID(r.Context()), body.CurrentPassword, body.NewPassword)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.clearSessionCookies(w)
	httptypes.WriteJSON(w, http.StatusOK, "password changed", nil)
}

func (a *API) handleTotpSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := a.service.SetupTotp(r.Context(), GetUserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "totp setup started", map[string]any{
		"secret": setup.Secret,
		"uri":    setup.URI,
	})
}

type totpEnableRequest struct {
	Code string `json:"code" validate:"required"`
}

func (a *API) handleTotpEnable(w http.ResponseWriter, r *http.Request) {
	body := new(totpEnableRequest)
	if !a.decode(w, r, body) {
		return
	}

	backupCodes, err := a.service.EnableTotp(r.Context(), GetUserID(r.Context()), body.Code)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "totp enabled", map[string]any{
		"backupCodes": backupCodes,
	})
}

type totpDisableRequest struct {
	Password string `json:"password" validate:"required"`
}

func (a *API) handleTotpDisable(w http.ResponseWriter, r *http.Request) {
	body := new(totpDisableRequest)
	if !a.decode(w, r, body) {
		return
	}

	if err := a.service.DisableTotp(r.Context(), GetUserID(r.Context()), body.Password); err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "totp disabled", nil)
}

func (a *API) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	options, err := a.service.BeginPasskeyRegistration(r.Context(), GetUserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "registration started", options)
}

func (a *API) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	// the request body is the raw attestation response, so the passkey name
	// travels as a query parameter
	passkey, err := a.service.FinishPasskeyRegistration(r.Context(), GetUserID(r.Context()), r.URL.Query().Get("name"), r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "passkey registered", passkey)
}

func (a *API) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	passkeys, err := a.service.ListPasskeys(r.Context(), GetUserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "ok", passkeys)
}

type renamePasskeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (a *API) handleRenamePasskey(w http.ResponseWriter, r *http.Request) {
	body := new(renamePasskeyRequest)
	if !a.decode(w, r, body) {
		return
	}

	err := a.service.RenamePasskey(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "id"), body.Name)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "passkey renamed", nil)
}

func (a *API) handleRemovePasskey(w http.ResponseWriter, r *http.Request) {
	err := a.service.RemovePasskey(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "passkey removed", nil)
}

// An empty email requests a usernameless, discoverable ceremony.
type passkeyLoginBeginRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

func (a *API) handlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	body := new(passkeyLoginBeginRequest)
	if !a.decode(w, r, body) {
		return
	}

	options, err := a.service.BeginPasskeyLogin(r.Context(), body.Email)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "login started", options)
}

func (a *API) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	// raw assertion body, email as query parameter
	session, err := a.service.FinishPasskeyLogin(r.Context(), r.URL.Query().Get("email"), r, requestMeta(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.writeSession(w, session, "login successful")
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		httptypes.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := a.validate.Struct(body); err != nil {
		httptypes.WriteValidationError(w, validationMessages(err))
		return false
	}
	return true
}

func validationMessages(err error) []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{"invalid request"}
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fe.Field()+" failed validation: "+fe.Tag())
	}
	return messages
}

func (a *API) writeSession(w http.ResponseWriter, session *Session, message string) {
	a.setSessionCookies(w, session)
	httptypes.WriteJSON(w, http.StatusOK, message, map[string]any{
		"user":        session.User,
		"tenants":     session.User.Tenants,
		"accessToken": session.Pair.AccessToken,
		"expiresAt":   session.Pair.ExpiresAt,
	})
}

func (a *API) setSessionCookies(w http.ResponseWriter, session *Session) {
	a.setCookie(w, accessTokenCookie, session.Pair.AccessToken, session.Pair.ExpiresAt)
	a.setCookie(w, refreshTokenCookie, session.Pair.RefreshToken, time.Time{})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	a.setCookie(w, accessTokenCookie, "", expired)
	a.setCookie(w, refreshTokenCookie, "", expired)
}

func (a *API) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cookies.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidToken):
		httptypes.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrEmailNotVerified), errors.Is(err, ErrAccountDeactivated):
		httptypes.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, mfa.ErrTotpAlreadyEnabled), errors.Is(err, mfa.ErrDuplicatePasskey):
		httptypes.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mfa.ErrNoPendingSetup), errors.Is(err, mfa.ErrTotpNotEnabled):
		httptypes.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mfa.ErrInvalidCode), errors.Is(err, mfa.ErrClonedCredential):
		httptypes.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, mfa.ErrPasskeyNotFound):
		httptypes.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		httptypes.WriteError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Errorf("request failed: %v", err)
		httptypes.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestMeta(r *http.Request) RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}

	return RequestMeta{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}
