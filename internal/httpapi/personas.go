package httpapi

import "net/http"

type listPersonasResponse struct {
	DefaultRoleName string   `json:"default_role_name"`
	DefaultYouName  string   `json:"default_you_name"`
	Personas        []string `json:"personas"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	personas := s.info.Personas
	if personas == nil {
		personas = []string{}
	}
	respondJSON(w, http.StatusOK, listPersonasResponse{
		DefaultRoleName: s.cfg.CharacterName,
		DefaultYouName:  s.cfg.YourName,
		Personas:        personas,
	})
}
