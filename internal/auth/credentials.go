package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"trio-stream/internal/domain"
)

// ErrNoCredentials indica que no hay una sesion autenticada para firmar la request.
var ErrNoCredentials = errors.New("no credentials")

// Credentials aplica el contexto de autenticacion a una request saliente.
type Credentials interface {
	Apply(req *http.Request) error
}

// CredentialsFunc adapta una funcion a Credentials.
type CredentialsFunc func(req *http.Request) error

func (f CredentialsFunc) Apply(req *http.Request) error {
	return f(req)
}

// BearerToken envia el token en el header Authorization.
type BearerToken string

func (t BearerToken) Apply(req *http.Request) error {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return ErrNoCredentials
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// SessionCookie envia la cookie de sesion del backend en cada request.
type SessionCookie struct {
	Name  string
	Value string
}

func (c SessionCookie) Apply(req *http.Request) error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Value) == "" {
		return ErrNoCredentials
	}
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	return nil
}

// JWTIssuer firma un token nuevo por request para un usuario de servicio.
type JWTIssuer struct {
	Service *JWTService
	User    domain.User
}

func (j JWTIssuer) Apply(req *http.Request) error {
	if j.Service == nil {
		return ErrNoCredentials
	}
	token, err := j.Service.IssueAccessToken(j.User)
	if err != nil {
		return errors.Join(ErrNoCredentials, err)
	}
	return BearerToken(token).Apply(req)
}

type credentialsKey struct{}

// WithCredentials guarda credenciales en el contexto; tienen prioridad sobre
// las credenciales por defecto del cliente.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// FromContext devuelve las credenciales guardadas con WithCredentials.
func FromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey{}).(Credentials)
	return creds, ok && creds != nil
}
