package domain

import "time"

// SenderKind distingue quien escribio un mensaje. Los valores coinciden con
// los que persiste el backend.
type SenderKind string

const (
	SenderKindUser  SenderKind = "User"
	SenderKindAgent SenderKind = "Agent"
)

// IsValid indica si el SenderKind es uno de los conocidos.
func (k SenderKind) IsValid() bool {
	switch k {
	case SenderKindUser, SenderKindAgent:
		return true
	}
	return false
}

// Message es un mensaje completo de un chat. Una vez completo su contenido no cambia.
type Message struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chatId,omitempty"`
	Content    string     `json:"content"`
	SenderID   string     `json:"senderId"`
	SenderName string     `json:"senderName,omitempty"`
	SenderKind SenderKind `json:"senderType"`
	CreatedAt  time.Time  `json:"createdAt"`
}
