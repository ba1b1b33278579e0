package api

import (
	"encoding/json"
	"net/http"

	"github.com/currantlabs/jelling"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sess.Info())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Start(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sess.Info())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Stop(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sess.Info())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sess.Config())
}

// handlePutConfig applies the fields present in the body to the running
// configuration.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	c := s.sess.Config()
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.sess.SetConfig(c); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sess.Config())
}

func (s *Server) handleDefaultConfig(w http.ResponseWriter, r *http.Request) {
	s.sess.LoadDefaultConfig()
	s.respondJSON(w, http.StatusOK, s.sess.Config())
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	f := s.sess.Config().Filter
	if f == nil {
		f = []jelling.Addr{}
	}
	s.respondJSON(w, http.StatusOK, f)
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addr jelling.Addr `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.sess.FilterAdd(req.Addr); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sess.Config().Filter)
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	s.sess.FilterClear()
	w.WriteHeader(http.StatusNoContent)
}
