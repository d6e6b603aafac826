package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cohort-ledger/ledger"
)

const multipartMemory = 8 << 20

// ------------------ Members ------------------

type loginRequest struct {
	Name   string        `json:"name"`
	Gender ledger.Gender `json:"gender"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, created, err := s.mgr.Login(r.Context(), req.Name, req.Gender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, m)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.mgr.ListMembers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []ledger.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.mgr.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleSetGender accepts {"gender": ...} as JSON or a form field, like the
// profile page posts it.
func (s *Server) handleSetGender(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var gender string
	if isJSON(r) {
		var body struct {
			Gender string `json:"gender"`
		}
		if err := decodeJSON(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		gender = body.Gender
	} else {
		gender = r.FormValue("gender")
	}
	m, err := s.mgr.SetGender(r.Context(), chi.URLParam(r, "id"), caller, ledger.Gender(gender))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMemberSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.mgr.ListMemberSubmissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSubmissions(w, subs)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranked, err := s.mgr.Rankings(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// ------------------ Submissions ------------------

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func writeSubmissions(w http.ResponseWriter, subs []*ledger.Submission) {
	if subs == nil {
		subs = []*ledger.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	t, err := ledger.ParseSubmissionType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	subs, err := s.mgr.ListSubmissions(r.Context(), ledger.Filter{Type: t, Offset: skip, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSubmissions(w, subs)
}

func submissionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: submission id must be a positive integer", ledger.ErrNotFound)
	}
	return id, nil
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.mgr.GetSubmission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// submissionForm is the parsed body of a create or update request. Fields
// absent from the request stay nil.
type submissionForm struct {
	Type    *string
	Date    *string
	Content []byte
	file    multipart.File
	header  *multipart.FileHeader
}

func (f *submissionForm) close() {
	if f.file != nil {
		f.file.Close()
	}
}

type submissionJSON struct {
	Type    *string         `json:"type"`
	Date    *string         `json:"date"`
	Content json.RawMessage `json:"content"`
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// readSubmissionForm accepts multipart/form-data (with an optional "file"
// image) or a JSON body. The date may be sent as "date" or "date_str".
func (s *Server) readSubmissionForm(w http.ResponseWriter, r *http.Request) (*submissionForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartMemory)
	form := &submissionForm{}
	if isJSON(r) {
		var body submissionJSON
		if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		form.Type, form.Date = body.Type, body.Date
		if len(body.Content) > 0 && string(body.Content) != "null" {
			form.Content = body.Content
		}
		return form, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, &http.MaxBytesError{Limit: s.maxUpload}
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	// field returns the first non-blank value among names; blank fields count as absent.
	field := func(names ...string) *string {
		for _, n := range names {
			if vs := r.MultipartForm.Value[n]; len(vs) > 0 {
				if v := strings.TrimSpace(vs[0]); v != "" {
					return &v
				}
			}
		}
		return nil
	}
	form.Type = field("type")
	form.Date = field("date", "date_str")
	if c := field("content"); c != nil {
		form.Content = []byte(*c)
	}
	if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
		fh := fhs[0]
		if fh.Size > s.maxUpload {
			return nil, &http.MaxBytesError{Limit: s.maxUpload}
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		form.file, form.header = f, fh
	}
	return form, nil
}

// storeImage uploads the form's file, if any, and returns its reference.
func (s *Server) storeImage(r *http.Request, form *submissionForm) (*string, error) {
	if form.file == nil {
		return nil, nil
	}
	contentType := form.header.Header.Get("Content-Type")
	ref, err := s.blobs.Put(r.Context(), form.header.Filename, contentType, form.file)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller.MemberID == "" {
		s.writeError(w, r, errUnauthenticated)
		return
	}
	form, err := s.readSubmissionForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.close()

	if form.Type == nil {
		s.writeError(w, r, fmt.Errorf("%w: type is required", ledger.ErrValidation))
		return
	}
	t := ledger.SubmissionType(*form.Type)
	content, err := ledger.DecodeContent(t, form.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.storeImage(r, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ref != nil {
		if content, err = ledger.WithImageRef(content, *ref); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var date string
	if form.Date != nil {
		date = *form.Date
	}

	sub, err := s.mgr.CreateSubmission(r.Context(), caller.MemberID, t, date, content)
	if err != nil {
		if ref != nil {
			s.logger.Warn("uploaded image left unreferenced", "ref", *ref, "error", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The type never changes, so reading it ahead of the transactional update is safe.
	current, err := s.mgr.GetSubmission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !caller.Admin && caller.MemberID != current.OwnerID {
		s.writeError(w, r, fmt.Errorf("%w: submission %d belongs to another member", ledger.ErrForbidden, id))
		return
	}

	form, err := s.readSubmissionForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.close()
	if form.Type != nil && *form.Type != "" && ledger.SubmissionType(*form.Type) != current.Type {
		s.writeError(w, r, fmt.Errorf("%w: the type of a submission cannot change", ledger.ErrValidation))
		return
	}

	var patch ledger.SubmissionPatch
	// An empty date field means the date is left alone.
	if form.Date != nil && *form.Date != "" {
		patch.Date = form.Date
	}
	if form.Content != nil {
		if patch.Content, err = ledger.DecodeContent(current.Type, form.Content); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if patch.ImageRef, err = s.storeImage(r, form); err != nil {
		s.writeError(w, r, err)
		return
	}

	sub, err := s.mgr.UpdateSubmission(r.Context(), id, caller, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.DeleteSubmission(r.Context(), id, caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// ------------------ Admin ------------------

type tokenRequest struct {
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, exp, err := s.auth.IssueToken(req.Secret)
	if err != nil {
		s.logger.Info("admin token refused", "error", err, "remote", r.RemoteAddr)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !caller.Admin {
		s.writeError(w, r, fmt.Errorf("%w: admin authority required", ledger.ErrForbidden))
		return
	}
	drifts, err := s.mgr.Reconcile(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": drifts})
}
