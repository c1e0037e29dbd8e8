package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"crmgate/internal/crm"
)

// maxFieldPages bounds custom field pagination.
const maxFieldPages = 20

// page is the paginated collection envelope of the CRM API.
type page struct {
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
	Embedded map[string]json.RawMessage `json:"_embedded"`
}

func decodePage(resp *crm.Response) (page, error) {
	var p page
	if err := resp.Decode(&p); err != nil {
		return page{}, fmt.Errorf("unexpected collection format: %w", err)
	}
	return p, nil
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	resp, err := s.crm.Call(r.Context(), http.MethodGet, "/api/v4/leads/pipelines", nil)
	if err != nil {
		writeCRMError(w, err)
		return
	}

	p, err := decodePage(resp)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), nil)
		return
	}

	var pipelines []json.RawMessage
	if raw, ok := p.Embedded["pipelines"]; ok {
		if err := json.Unmarshal(raw, &pipelines); err != nil {
			writeError(w, http.StatusBadGateway, "unexpected pipelines format", nil)
			return
		}
	}
	writeSuccess(w, map[string]interface{}{
		"pipelines": nonNil(pipelines),
		"count":     len(pipelines),
	}, "Pipelines retrieved successfully")
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Pipeline id must be a positive integer", nil)
		return
	}

	resp, err := s.crm.Call(r.Context(), http.MethodGet, fmt.Sprintf("/api/v4/leads/pipelines/%d", id), nil)
	if err != nil {
		writeCRMError(w, err)
		return
	}
	writeSuccess(w, resp.Data, "Pipeline retrieved successfully")
}

// handleCustomFields collects every page of an entity's custom fields.
func (s *Server) handleCustomFields(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields []json.RawMessage
		for pageNum := 1; pageNum <= maxFieldPages; pageNum++ {
			query := url.Values{"page": {strconv.Itoa(pageNum)}, "limit": {"50"}}
			path := "/api/v4/" + entity + "/custom_fields?" + query.Encode()

			resp, err := s.crm.Call(r.Context(), http.MethodGet, path, nil)
			if err != nil {
				writeCRMError(w, err)
				return
			}
			if len(resp.Data) == 0 {
				break
			}

			p, err := decodePage(resp)
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error(), nil)
				return
			}
			if raw, ok := p.Embedded["custom_fields"]; ok {
				var batch []json.RawMessage
				if err := json.Unmarshal(raw, &batch); err != nil {
					writeError(w, http.StatusBadGateway, "unexpected custom fields format", nil)
					return
				}
				fields = append(fields, batch...)
			}
			if p.Links.Next == nil {
				break
			}
		}

		writeSuccess(w, map[string]interface{}{
			"fields": nonNil(fields),
			"count":  len(fields),
		}, "Custom fields retrieved successfully")
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	query := url.Values{}
	if with := r.URL.Query().Get("with"); with != "" {
		query.Set("with", with)
	}
	path := "/api/v4/account"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := s.crm.Call(r.Context(), http.MethodGet, path, nil)
	if err != nil {
		writeCRMError(w, err)
		return
	}
	writeSuccess(w, resp.Data, "Account info retrieved successfully")
}

// handlePassthrough forwards /api/v1/crm/{path} to /api/v4/{path}.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	path := "/api/v4/" + r.PathValue("path")
	if r.URL.RawQuery != "" {
		q := r.URL.Query()
		q.Del("api_key")
		if encoded := q.Encode(); encoded != "" {
			path += "?" + encoded
		}
	}

	var body interface{}
	if r.Method == http.MethodPost || r.Method == http.MethodPatch {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return
		}
		if len(data) > 0 {
			if !json.Valid(data) {
				writeError(w, http.StatusBadRequest, "Request body must be valid JSON", nil)
				return
			}
			body = json.RawMessage(data)
		}
	}

	resp, err := s.crm.Call(r.Context(), r.Method, path, body)
	if err != nil {
		writeCRMError(w, err)
		return
	}
	if len(resp.Data) == 0 {
		writeSuccess(w, nil, "")
		return
	}
	writeSuccess(w, resp.Data, "")
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}
