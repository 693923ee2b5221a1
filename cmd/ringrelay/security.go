package main

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"ringrelay/internal/auth"
	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/models"
	"ringrelay/internal/privacy"
	"ringrelay/internal/service"
	"ringrelay/internal/tracing"
)

// requireIdentity rejects API calls without a valid token and attaches the
// verified identity to the request context.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Authenticate(r)
		if err != nil {
			reason := "invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				reason = "missing token"
			}
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.RequestID(r.Context()),
				service.LogFieldURL:       r.URL.Path,
			}).WithError(err).Debug("Rejected unauthenticated request")
			s.writeError(w, r, apperrors.NewAuthError(reason))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// pathUserID returns the {userId} route variable once it passes validation
func pathUserID(r *http.Request) (string, error) {
	userID := mux.Vars(r)["userId"]
	if err := models.ValidateUserID(userID); err != nil {
		return "", apperrors.NewValidationError("userId", userID, err.Error())
	}
	return userID, nil
}

// verboseContext carries the -verbose flag to the services behind the router
func verboseContext(verbose bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(service.WithVerbose(r.Context(), verbose)))
		})
	}
}

// writeError renders err as the standard error body. Server-side failures
// are logged with their internal detail, which never reaches the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.RequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)

	if status >= http.StatusInternalServerError {
		entry := s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: requestID,
			service.LogFieldURL:       r.URL.Path,
		})
		if id, ok := auth.FromContext(r.Context()); ok {
			entry = entry.WithField(service.LogFieldUserID, privacy.MaskUserID(id.UserID))
		}
		apperrors.LogError(entry, err, "API request failed")
	}

	writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
