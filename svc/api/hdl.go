package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"slugbin/cfg"
	"slugbin/pkg/domain"
	"slugbin/svc/svc"
	"slugbin/svc/util"
)

const (
	// body cap when MAX_PASTE_SIZE is unbounded
	maxRequestSize = 10 << 20
	// room for JSON escaping and the other fields around content
	requestOverhead = 16 << 10
	tokenHeader     = "X-Paste-Token"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

func (h *Hdl) bodyLimit() int64 {
	if h.cfg.MaxPasteSize > 0 {
		return h.cfg.MaxPasteSize*2 + requestOverhead
	}
	return maxRequestSize
}

// decodeJSON reads a single JSON object into dst, refusing unknown fields,
// other media types and compressed bodies.
func (h *Hdl) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	log := hlog.FromRequest(r)
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		return domain.Invalid("expected Content-Type: application/json")
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		return domain.Invalid("compressed request bodies are not accepted")
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit())
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			log.Warn().Int64("limit", tooBig.Limit).Msg("request body exceeds maximum")
			return domain.ErrPasteTooLarge
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			return domain.Invalid("request body is empty")
		default:
			log.Warn().Err(err).Msg("invalid request")
			return domain.Invalid("malformed JSON body: " + err.Error())
		}
	}
	if dec.More() {
		return domain.Invalid("request body must contain a single JSON object")
	}
	return nil
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req CreateReq
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeErr(w, err, requestID)
		return
	}
	params, err := req.Validate(h.cfg)
	if err != nil {
		log.Warn().Err(err).Msg("create rejected")
		writeErr(w, err, requestID)
		return
	}
	paste, token, err := h.paste.Create(r.Context(), params)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("slug", paste.Slug).
		Str("privacy", string(paste.Privacy)).
		Str("expiration", string(params.Expiration)).
		Int("size", len(paste.Content)).
		Msg("paste created")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(CreateResp{Slug: paste.Slug, SecretToken: token})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(tokenHeader)
	}
	paste, err := h.paste.Get(r.Context(), slug, token)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			// private pastes answer like missing ones
			log.Warn().
				Str("slug", slug).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("private paste read denied")
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Debug().Err(err).Str("slug", slug).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("slug", slug).
		Int64("views", paste.Views).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) UpdatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	var req UpdateReq
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeErr(w, err, requestID)
		return
	}
	params, err := req.Validate(h.cfg)
	if err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("update rejected")
		writeErr(w, err, requestID)
		return
	}
	if err := h.paste.Update(r.Context(), slug, params); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			log.Warn().
				Str("slug", slug).
				Str("token", util.RedactToken(params.Token)).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("update with invalid token")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("slug", slug).Msg("paste updated")
	json.NewEncoder(w).Encode(SuccessResp{Success: true})
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	var req DeleteReq
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := h.decodeJSON(w, r, &req); err != nil {
			writeErr(w, err, requestID)
			return
		}
	}
	token := req.SecretToken
	if token == "" {
		token = r.Header.Get(tokenHeader)
	}
	if err := h.paste.Delete(r.Context(), slug, token); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			log.Warn().
				Str("slug", slug).
				Str("token", util.RedactToken(token)).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("delete with invalid token")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("slug", slug).Msg("paste deleted")
	json.NewEncoder(w).Encode(SuccessResp{Success: true})
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
