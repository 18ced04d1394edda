package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/crateworks/crate-validator/pkg/dispatch"
	"github.com/crateworks/crate-validator/pkg/objectstore"
)

const inProgress = "Validation in progress"

type storeConfigBody struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	AccessKey string `json:"accesskey" validate:"required"`
	Secret    string `json:"secret" validate:"required"`
	SSL       *bool  `json:"ssl" validate:"required"`
	Bucket    string `json:"bucket" validate:"required"`
}

func (b *storeConfigBody) config() objectstore.Config {
	cfg := objectstore.Config{
		Endpoint:  b.Endpoint,
		AccessKey: b.AccessKey,
		Secret:    b.Secret,
		Bucket:    b.Bucket,
	}
	if b.SSL != nil {
		cfg.SSL = *b.SSL
	}
	return cfg
}

type validationBody struct {
	MinioConfig  *storeConfigBody `json:"minio_config" validate:"required"`
	RootPath     string           `json:"root_path"`
	ProfileName  string           `json:"profile_name"`
	WebhookURL   string           `json:"webhook_url" validate:"omitempty,url"`
	ProfilesPath string           `json:"profiles_path"`
}

type resultBody struct {
	MinioConfig *storeConfigBody `json:"minio_config" validate:"required"`
	RootPath    string           `json:"root_path"`
}

type metadataBody struct {
	CrateJSON    string `json:"crate_json"`
	ProfileName  string `json:"profile_name"`
	WebhookURL   string `json:"webhook_url" validate:"omitempty,url"`
	ProfilesPath string `json:"profiles_path"`
}

type legacyBody struct {
	CrateID     string `json:"crate_id"`
	ProfileName string `json:"profile_name"`
	WebhookURL  string `json:"webhook_url"`
	RootPath    string `json:"root_path"`
	MinioBucket string `json:"minio_bucket"`
}

// crateIDParam returns the decoded crateID path segment. chi routes on the
// raw path when the request has one, leaving the segment percent-encoded.
func crateIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "crateID")
	if r.URL.RawPath == "" {
		return id, true
	}
	id, err := url.PathUnescape(id)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid parameter crate_id: "+err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) submitValidation(w http.ResponseWriter, r *http.Request) {
	crateID, ok := crateIDParam(w, r)
	if !ok {
		return
	}
	var body validationBody
	if err := bind(r, &body); err != nil {
		writeBindError(w, err)
		return
	}

	id, err := s.dispatcher.SubmitByReference(r.Context(), dispatch.ReferenceRequest{
		Store:        body.MinioConfig.config(),
		CrateID:      crateID,
		RootPath:     body.RootPath,
		ProfileName:  body.ProfileName,
		WebhookURL:   body.WebhookURL,
		ProfilesPath: body.ProfilesPath,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	s.accepted(w, id)
}

// getValidation reads the stored result. The store location travels in the
// JSON body of the GET request.
func (s *Server) getValidation(w http.ResponseWriter, r *http.Request) {
	crateID, ok := crateIDParam(w, r)
	if !ok {
		return
	}
	var body resultBody
	if err := bind(r, &body); err != nil {
		writeBindError(w, err)
		return
	}

	result, err := s.dispatcher.FetchResult(r.Context(), dispatch.ResultRequest{
		Store:    body.MinioConfig.config(),
		CrateID:  crateID,
		RootPath: body.RootPath,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (s *Server) validateMetadata(w http.ResponseWriter, r *http.Request) {
	var body metadataBody
	if err := bind(r, &body); err != nil {
		writeBindError(w, err)
		return
	}

	resp, err := s.dispatcher.SubmitByMetadata(r.Context(), dispatch.MetadataRequest{
		CrateJSON:    body.CrateJSON,
		ProfileName:  body.ProfileName,
		WebhookURL:   body.WebhookURL,
		ProfilesPath: body.ProfilesPath,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if resp.Accepted {
		s.accepted(w, resp.JobID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resp.Result})
}

func (s *Server) legacyValidate(requireWebhook bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body legacyBody
		if err := bind(r, &body); err != nil {
			writeBindError(w, err)
			return
		}
		if strings.TrimSpace(body.CrateID) == "" {
			writeMessage(w, http.StatusBadRequest, "Missing required parameter: 'crate_id'")
			return
		}
		if requireWebhook && strings.TrimSpace(body.WebhookURL) == "" {
			writeMessage(w, http.StatusBadRequest, "Missing required parameter: 'webhook_url'")
			return
		}
		webhook := body.WebhookURL
		if !requireWebhook {
			webhook = ""
		}

		store := s.dispatcher.DefaultStore()
		if body.MinioBucket != "" {
			store.Bucket = body.MinioBucket
		}
		id, err := s.dispatcher.SubmitByReference(r.Context(), dispatch.ReferenceRequest{
			Store:       store,
			CrateID:     body.CrateID,
			RootPath:    body.RootPath,
			ProfileName: body.ProfileName,
			WebhookURL:  webhook,
		})
		if err != nil {
			writeServiceError(w, s.logger, err)
			return
		}
		s.accepted(w, id)
	}
}

func (s *Server) accepted(w http.ResponseWriter, jobID string) {
	if s.jobStore != nil {
		w.Header().Set("Location", "/v1/jobs/"+jobID)
	}
	writeMessage(w, http.StatusAccepted, inProgress)
}
