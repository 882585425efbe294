// Package fakedo is a minimal in-memory DigitalOcean API for tests. It serves
// the account, droplets-by-tag and domain record endpoints used by the
// digitalocean provider.
package fakedo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Droplet is a droplet as served by the fake.
type Droplet struct {
	ID        int
	Name      string
	Tags      []string
	PublicV4  []string
	PrivateV4 []string
}

// Record is a domain record as served by the fake.
type Record struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Data string `json:"data"`
	TTL  int    `json:"ttl"`
}

// Server is a fake DigitalOcean API. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	token    string
	droplets []Droplet
	records  map[string]map[int]Record // domain -> id -> record
	nextID   int
	calls    []string

	// FailCreate makes record creation fail for the listed data values.
	FailCreate map[string]bool
	// FailListRecords makes record listing return 500 while set.
	FailListRecords bool
	// FailListDroplets makes droplet listing return 500 while set.
	FailListDroplets bool
	// PageSize limits the number of items per page; 0 means unlimited.
	PageSize int
}

// New starts a fake API that accepts only the given bearer token.
func New(token string) *Server {
	s := &Server{
		token:      token,
		records:    map[string]map[int]Record{},
		nextID:     1000,
		FailCreate: map[string]bool{},
	}
	s.Server = httptest.NewServer(s)
	return s
}

// BaseURL returns the base URL to pass as the provider's api_url setting.
func (s *Server) BaseURL() string { return s.Server.URL + "/" }

// AddDroplet registers a droplet.
func (s *Server) AddDroplet(d Droplet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droplets = append(s.droplets, d)
}

// SetDroplets replaces all droplets.
func (s *Server) SetDroplets(ds ...Droplet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droplets = append([]Droplet(nil), ds...)
}

// AddDomain registers an empty domain.
func (s *Server) AddDomain(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[domain] == nil {
		s.records[domain] = map[int]Record{}
	}
}

// AddRecord stores a record in domain, assigning an id when r.ID is zero.
func (s *Server) AddRecord(domain string, r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRecordLocked(domain, r)
}

func (s *Server) addRecordLocked(domain string, r Record) Record {
	if s.records[domain] == nil {
		s.records[domain] = map[int]Record{}
	}
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	}
	s.records[domain][r.ID] = r
	return r
}

// Records returns the records of domain sorted by id.
func (s *Server) Records(domain string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRecordsLocked(domain)
}

func (s *Server) sortedRecordsLocked(domain string) []Record {
	out := make([]Record, 0, len(s.records[domain]))
	for _, r := range s.records[domain] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveRecord deletes a record behind the client's back.
func (s *Server) RemoveRecord(domain string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[domain], id)
}

// Calls returns the "METHOD /path" of every request served so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Set runs fn with the server lock held, for toggling failure flags.
func (s *Server) Set(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unable to authenticate you")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "v2" && parts[1] == "account" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"account": map[string]any{"uuid": "fake-account", "status": "active"},
		})
	case len(parts) == 2 && parts[0] == "v2" && parts[1] == "droplets" && r.Method == http.MethodGet:
		s.handleListDroplets(w, r)
	case len(parts) == 4 && parts[0] == "v2" && parts[1] == "domains" && parts[3] == "records":
		switch r.Method {
		case http.MethodGet:
			s.handleListRecords(w, r, parts[2])
		case http.MethodPost:
			s.handleCreateRecord(w, r, parts[2])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		}
	case len(parts) == 5 && parts[0] == "v2" && parts[1] == "domains" && parts[3] == "records" && r.Method == http.MethodDelete:
		s.handleDeleteRecord(w, parts[2], parts[4])
	default:
		writeError(w, http.StatusNotFound, "not_found", "The resource you were accessing could not be found.")
	}
}

func (s *Server) handleListDroplets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailListDroplets {
		writeError(w, http.StatusInternalServerError, "server_error", "droplets unavailable")
		return
	}

	tag := r.URL.Query().Get("tag_name")
	var items []any
	for _, d := range s.droplets {
		if !contains(d.Tags, tag) {
			continue
		}
		var v4 []map[string]string
		for _, ip := range d.PrivateV4 {
			v4 = append(v4, map[string]string{"ip_address": ip, "type": "private"})
		}
		for _, ip := range d.PublicV4 {
			v4 = append(v4, map[string]string{"ip_address": ip, "type": "public"})
		}
		items = append(items, map[string]any{
			"id":       d.ID,
			"name":     d.Name,
			"tags":     d.Tags,
			"networks": map[string]any{"v4": v4, "v6": []any{}},
		})
	}
	s.writePage(w, r, "droplets", items)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request, domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailListRecords {
		writeError(w, http.StatusInternalServerError, "server_error", "records unavailable")
		return
	}
	if _, ok := s.records[domain]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "domain not found")
		return
	}

	var items []any
	for _, rec := range s.sortedRecordsLocked(domain) {
		items = append(items, rec)
	}
	s.writePage(w, r, "domain_records", items)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request, domain string) {
	var req Record
	body, err := io.ReadAll(r.Body)
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreate[req.Data] {
		writeError(w, http.StatusUnprocessableEntity, "unprocessable_entity", "rejected "+req.Data)
		return
	}
	req.ID = 0
	rec := s.addRecordLocked(domain, req)
	writeJSON(w, http.StatusCreated, map[string]any{"domain_record": rec})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, domain, rawID string) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[domain][id]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "The resource you were accessing could not be found.")
		return
	}
	delete(s.records[domain], id)
	w.WriteHeader(http.StatusNoContent)
}

// writePage writes items[page] following the DigitalOcean links format.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, key string, items []any) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size := s.PageSize
	if size <= 0 {
		size = len(items) + 1
	}

	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	chunk := items[start:end]
	if chunk == nil {
		chunk = []any{}
	}

	pageURL := func(p int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(p))
		return fmt.Sprintf("%s%s?%s", s.Server.URL, r.URL.Path, q.Encode())
	}
	pages := map[string]string{}
	if page > 1 {
		pages["prev"] = pageURL(page - 1)
		pages["first"] = pageURL(1)
	}
	if end < len(items) {
		pages["next"] = pageURL(page + 1)
		pages["last"] = pageURL((len(items) + size - 1) / size)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		key:     chunk,
		"links": map[string]any{"pages": pages},
		"meta":  map[string]any{"total": len(items)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, id, msg string) {
	writeJSON(w, status, map[string]string{"id": id, "message": msg})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
