package httpapi

import (
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/arena"
	"github.com/pcgarena/arena/internal/auth"
	"github.com/pcgarena/arena/internal/submit"
	"github.com/pcgarena/arena/internal/types"
)

// ── Arena ───────────────────────────────────────────────────────────

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := s.arena.Leaderboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lb)
}

func (s *Server) handleNextBattle(w http.ResponseWriter, r *http.Request) {
	var req arena.NextBattleRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.arena.NextBattle(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req arena.VoteRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.arena.SubmitVote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGeneratorDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.arena.GeneratorDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleConfusionMatrix(w http.ResponseWriter, r *http.Request) {
	m, err := s.arena.ConfusionMatrix(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.arena.PlatformStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLevelStats(w http.ResponseWriter, r *http.Request) {
	detail, err := s.arena.LevelStatsDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// ── Auth ────────────────────────────────────────────────────────────

type okResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	OK              bool   `json:"ok"`
}

func okBody() okResponse {
	return okResponse{ProtocolVersion: protocolVersion, OK: true}
}

type userResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	EmailVerified   bool   `json:"email_verified"`
	IsAdmin         bool   `json:"is_admin,omitempty"`
}

func userBody(u *types.User, admin bool) userResponse {
	return userResponse{
		ProtocolVersion: protocolVersion,
		UserID:          u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		EmailVerified:   u.EmailVerified,
		IsAdmin:         admin,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.Register(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, session.Token, session.ExpiresAt)
	s.writeJSON(w, http.StatusOK, userBody(user, s.auth.IsAdmin(user)))
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, user, err := s.auth.ExternalLogin(r.Context(), req.Credential)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, session.Token, session.ExpiresAt)
	s.writeJSON(w, http.StatusOK, userBody(user, s.auth.IsAdmin(user)))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.sessionToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _, err := s.auth.Authenticate(r.Context(), s.sessionToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userBody(user, s.auth.IsAdmin(user)))
}

func (s *Server) handleMeAdmin(w http.ResponseWriter, r *http.Request) {
	user, _, err := s.auth.Authenticate(r.Context(), s.sessionToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.auth.IsAdmin(user) {
		s.writeError(w, r, apierr.Forbidden(apierr.CodeForbidden, "admin access required"))
		return
	}
	s.writeJSON(w, http.StatusOK, userBody(user, true))
}

// ── Builders ────────────────────────────────────────────────────────

type ownedGeneratorsResponse struct {
	ProtocolVersion string                `json:"protocol_version"`
	Generators      []ownedGeneratorEntry `json:"generators"`
}

type ownedGeneratorEntry struct {
	GeneratorID string `json:"generator_id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	IsActive    bool   `json:"is_active"`
}

func (s *Server) handleListOwned(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	gens, err := s.submit.ListOwned(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ownedGeneratorsResponse{
		ProtocolVersion: protocolVersion,
		Generators:      make([]ownedGeneratorEntry, 0, len(gens)),
	}
	for _, g := range gens {
		resp.Generators = append(resp.Generators, ownedGeneratorEntry{
			GeneratorID: g.ID,
			Name:        g.Name,
			Version:     g.Version,
			IsActive:    g.IsActive,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// parseUpload reads the multipart form shared by create and update.
func (s *Server) parseUpload(r *http.Request, generatorID string) (submit.UploadRequest, error) {
	if err := r.ParseMultipartForm(submit.MaxZipBytes + 1<<16); err != nil {
		return submit.UploadRequest{}, apierr.Invalid(apierr.CodeInvalidPayload,
			"body must be multipart/form-data with a levels_zip file")
	}
	file, header, err := r.FormFile("levels_zip")
	if err != nil {
		return submit.UploadRequest{}, apierr.Invalid(apierr.CodeInvalidPayload,
			"missing levels_zip file field")
	}
	defer file.Close()

	if header.Size > submit.MaxZipBytes {
		return submit.UploadRequest{}, apierr.Invalid(apierr.CodeZipTooLarge, "archive too large")
	}
	data, err := io.ReadAll(io.LimitReader(file, submit.MaxZipBytes+1))
	if err != nil {
		return submit.UploadRequest{}, apierr.Invalid(apierr.CodeInvalidZip, "could not read archive")
	}

	if generatorID == "" {
		generatorID = r.FormValue("generator_id")
	}
	return submit.UploadRequest{
		OwnerUserID:      userFrom(r.Context()).ID,
		GeneratorID:      generatorID,
		Name:             r.FormValue("name"),
		Version:          r.FormValue("version"),
		Description:      r.FormValue("description"),
		DocumentationURL: r.FormValue("documentation_url"),
		ZipData:          data,
	}, nil
}

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseUpload(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.submit.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUploadUpdate(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseUpload(r, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.submit.Update(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGeneratorDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	if err := s.submit.Delete(r.Context(), user.ID, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

// ── Admin ───────────────────────────────────────────────────────────

func (s *Server) handleGeneratorEnable(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.arena.SetGeneratorEnabled(r.Context(), r.PathValue("id"), enable); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, okBody())
	}
}

func (s *Server) handleSeasonReset(w http.ResponseWriter, r *http.Request) {
	if err := s.arena.SeasonReset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleSessionFlag(w http.ResponseWriter, r *http.Request) {
	if err := s.arena.FlagSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	target := filepath.Join(filepath.Dir(s.store.Path()),
		"arena-backup-"+time.Now().UTC().Format("20060102-150405")+".db")
	if err := s.arena.Backup(r.Context(), target); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("backup written", zap.String("path", target))
	s.writeJSON(w, http.StatusOK, struct {
		ProtocolVersion string `json:"protocol_version"`
		Path            string `json:"path"`
	}{protocolVersion, target})
}
