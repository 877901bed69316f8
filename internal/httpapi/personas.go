package httpapi

import (
	"net/http"

	"github.com/ent0n29/confidant/internal/protocol"
)

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	list := s.personas.List()
	out := protocol.PersonaList{
		Default:  s.cfg.DefaultPersonaID,
		Personas: make([]protocol.PersonaInfo, 0, len(list)),
	}
	for _, p := range list {
		out.Personas = append(out.Personas, protocol.PersonaInfo{
			Key:         p.Key,
			DisplayName: p.DisplayName,
			Voice:       s.personas.Voice(p.Key),
			Greeting:    s.personas.Greeting(p.Key),
		})
	}
	respondJSON(w, http.StatusOK, out)
}
