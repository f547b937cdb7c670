package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/ledger"
	"github.com/Proton-105/coinwatch/internal/middleware"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/submission"
	"github.com/Proton-105/coinwatch/internal/telegram"
	"github.com/Proton-105/coinwatch/internal/user"
)

type messageResponse struct {
	Message string       `json:"message"`
	User    *domain.User `json:"user,omitempty"`
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Auth.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) error {
	var creds user.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		return err
	}

	login, err := s.svc.Users.Signup(r.Context(), creds)
	if err != nil {
		return err
	}

	s.setSessionCookie(w, login.Session)
	middleware.WriteJSON(w, http.StatusCreated, messageResponse{Message: "User created successfully", User: login.User})
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	var creds user.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		return err
	}

	login, err := s.svc.Users.Login(r.Context(), creds)
	if err != nil {
		return err
	}

	s.setSessionCookie(w, login.Session)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged in successfully", User: login.User})
	return nil
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(s.opts.Auth.CookieName); err == nil {
		if err := s.svc.Users.Logout(r.Context(), cookie.Value); err != nil {
			return err
		}
	}

	s.clearSessionCookie(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
	return nil
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) error {
	id := middleware.IdentityFrom(r.Context())
	if !id.Authenticated() {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	u, err := s.svc.Users.Get(r.Context(), id)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, u)
	return nil
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := s.svc.Users.List(r.Context())
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, users)
	return nil
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) error {
	var upd user.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		return err
	}

	login, err := s.svc.Users.UpdateProfile(r.Context(), middleware.IdentityFrom(r.Context()), upd)
	if err != nil {
		return err
	}

	s.setSessionCookie(w, login.Session)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Profile updated successfully", User: login.User})
	return nil
}

type telegramLoginRequest struct {
	InitData string `json:"initData"`
}

func (s *Server) telegramLogin(w http.ResponseWriter, r *http.Request) error {
	if s.svc.Telegram == nil {
		return apperrors.NewNotFoundError("Telegram login")
	}

	var req telegramLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.InitData) == "" {
		return apperrors.NewValidationError("initData is required")
	}

	data, err := s.svc.Telegram.Validate(req.InitData)
	switch {
	case errors.Is(err, telegram.ErrExpired):
		return apperrors.NewValidationError("Telegram login data has expired.")
	case errors.Is(err, telegram.ErrMissingUser):
		return apperrors.NewValidationError("User data not found in initData.")
	case err != nil:
		return apperrors.NewValidationError("Invalid data from Telegram. Hash does not match.")
	}

	login, err := s.svc.Users.LoginTelegram(r.Context(), data.User)
	if err != nil {
		return err
	}

	s.setSessionCookie(w, login.Session)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged in successfully", User: login.User})
	return nil
}

func (s *Server) claimReward(w http.ResponseWriter, r *http.Request) error {
	var req ledger.ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	result, err := s.svc.Ledger.Claim(r.Context(), middleware.IdentityFrom(r.Context()), req)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, result)
	return nil
}

func (s *Server) watchData(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	summary, err := s.svc.Ledger.WatchData(r.Context(), middleware.IdentityFrom(r.Context()), q.Get("videoId"), q.Get("channel"))
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, summary)
	return nil
}

func (s *Server) submitVideo(w http.ResponseWriter, r *http.Request) error {
	var req submission.Request
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	result, err := s.svc.Submissions.Submit(r.Context(), middleware.IdentityFrom(r.Context()), req.VideoURL)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusCreated, result)
	return nil
}

func (s *Server) adminData(w http.ResponseWriter, r *http.Request) error {
	status := domain.VideoStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		return apperrors.NewValidationError("Unknown status filter")
	}

	queue, err := s.svc.Moderation.List(r.Context(), middleware.IdentityFrom(r.Context()), status)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, queue)
	return nil
}

type videoStatusRequest struct {
	VideoID int64              `json:"videoId"`
	Status  domain.VideoStatus `json:"status"`
}

func (s *Server) updateVideoStatus(w http.ResponseWriter, r *http.Request) error {
	var req videoStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if req.VideoID <= 0 {
		return apperrors.NewValidationError("videoId is required")
	}

	video, err := s.svc.Moderation.Transition(r.Context(), middleware.IdentityFrom(r.Context()), req.VideoID, req.Status)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Video status updated",
		"video":   video,
	})
	return nil
}

type adjustRequest struct {
	UserID int64  `json:"userId"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) adjustCoins(w http.ResponseWriter, r *http.Request) error {
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	balance, err := s.svc.Ledger.Adjust(r.Context(), middleware.IdentityFrom(r.Context()), req.UserID, req.Delta, req.Reason)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"userId": req.UserID,
		"coins":  balance,
	})
	return nil
}
