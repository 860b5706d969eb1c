package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/auth"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

func (s *HTTPServer) registerHandler(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.accounts.Register(r.Context(), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user.Summary())
}

func (s *HTTPServer) loginHandler(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.accounts.Login(r.Context(), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) refreshHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	access, err := s.accounts.Refresh(r.Context(), in.Refresh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *HTTPServer) sendVerificationHandler(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.accounts.SendVerification(r.Context(), in.Email); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "If the account exists, a verification email has been sent")
}

// confirmEmailHandler accepts the token in the body or, for links opened
// directly, in the query string
func (s *HTTPServer) confirmEmailHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if in.Token == "" {
		in.Token = r.URL.Query().Get("token")
	}

	if _, err := s.accounts.ConfirmEmail(r.Context(), in.Token); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "Email successfully verified")
}

func (s *HTTPServer) passwordResetRequestHandler(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.accounts.RequestPasswordReset(r.Context(), in.Email); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "If the account exists, a password reset email has been sent")
}

func (s *HTTPServer) passwordResetConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "Password has been reset")
}

func (s *HTTPServer) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	summaries := make([]models.UserSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, user.Summary())
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *HTTPServer) profileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Profile(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// profileRequest keeps spending_limit raw so an explicit null can clear it
type profileRequest struct {
	Email            *string          `json:"email"`
	SpendingLimit    json.RawMessage  `json:"spending_limit"`
	WarningThreshold *decimal.Decimal `json:"warning_threshold"`
}

func (p *profileRequest) update() (*models.ProfileUpdate, error) {
	update := &models.ProfileUpdate{Email: p.Email, WarningThreshold: p.WarningThreshold}

	switch raw := bytes.TrimSpace(p.SpendingLimit); {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		update.ClearSpendingLimit = true
	default:
		var limit decimal.Decimal
		if err := json.Unmarshal(raw, &limit); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "A valid number is required.", "spending_limit")
		}
		update.SpendingLimit = &limit
	}
	return update, nil
}

func (s *HTTPServer) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var in profileRequest
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	update, err := in.update()
	if err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.accounts.UpdateProfile(r.Context(), currentUser(r), update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) deleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.DeleteAccount(r.Context(), currentUser(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
