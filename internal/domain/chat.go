package domain

import (
	"errors"
	"strings"
)

type ChatType string

const (
	ChatTypeDefault    ChatType = "DEFAULT"
	ChatTypeReflection ChatType = "REFLECTION"
)

// IsValid indica si el ChatType es uno de los conocidos.
func (t ChatType) IsValid() bool {
	switch t {
	case ChatTypeDefault, ChatTypeReflection:
		return true
	}
	return false
}

// MaxAgentTraits es el limite de rasgos que acepta el backend por agente.
const MaxAgentTraits = 4

var ErrAgentInvalid = errors.New("agent invalid")

// Agent es un participante artificial del chat. El chat lo referencia, no lo posee.
type Agent struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Lingo  string   `json:"lingo,omitempty"`
	Traits []string `json:"traits,omitempty"`
}

// Validate aplica las mismas reglas que el backend al crear agentes.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrAgentInvalid
	}
	if len(a.Traits) > MaxAgentTraits {
		return ErrAgentInvalid
	}
	return nil
}

// Chat es la conversacion tal como la entrega el colaborador de historial.
type Chat struct {
	ID       string    `json:"id"`
	ChatName string    `json:"chatName"`
	Type     ChatType  `json:"type,omitempty"`
	Messages []Message `json:"messages"`
	Agents   []Agent   `json:"agents"`
}

// AgentByID busca un agente del roster por id.
func (c Chat) AgentByID(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}
