// Package httpx holds the JSON response conventions shared by every HTTP handler:
// success bodies, the failure body and request decoding.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Machine readable error codes.
const (
	CodeValidation      = "validation_error"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)

// User facing messages. The product is sold in Spanish speaking markets.
const (
	MsgValidation      = "Los datos enviados no son válidos."
	MsgUnauthenticated = "Necesitas iniciar sesión."
	MsgForbidden       = "No tienes permiso para realizar esta acción."
	MsgNotFound        = "No encontramos lo que buscas."
	MsgConflict        = "El recurso ya existe o fue modificado."
	MsgRateLimited     = "Demasiadas solicitudes, intenta de nuevo en un momento."
	MsgInternal        = "Ocurrió un error inesperado. Intenta de nuevo más tarde."
)

const maxBodyBytes = 1 << 20

// Problem is the failure body: {"error": ..., "code": ..., "fields": {...}}.
type Problem struct {
	Status  int                 `json:"-"`
	Message string              `json:"error"`
	Code    string              `json:"code"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func (p Problem) Error() string {
	return fmt.Sprintf("%d %s: %s", p.Status, p.Code, p.Message)
}

// NewProblem builds a problem with an explicit message.
func NewProblem(status int, code, message string) Problem {
	return Problem{Status: status, Code: code, Message: message}
}

// Validation builds a 400 problem carrying per-field messages.
func Validation(fields map[string][]string) Problem {
	p := NewProblem(http.StatusBadRequest, CodeValidation, MsgValidation)
	if len(fields) > 0 {
		p.Fields = make(map[string][]string, len(fields))
		for k, v := range fields {
			p.Fields[k] = append([]string(nil), v...)
		}
	}
	return p
}

func Unauthenticated() Problem {
	return NewProblem(http.StatusUnauthorized, CodeUnauthenticated, MsgUnauthenticated)
}

func Forbidden() Problem {
	return NewProblem(http.StatusForbidden, CodeForbidden, MsgForbidden)
}

func NotFound(message string) Problem {
	if message == "" {
		message = MsgNotFound
	}
	return NewProblem(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) Problem {
	if message == "" {
		message = MsgConflict
	}
	return NewProblem(http.StatusConflict, CodeConflict, message)
}

func RateLimited() Problem {
	return NewProblem(http.StatusTooManyRequests, CodeRateLimited, MsgRateLimited)
}

// Internal never carries error details; callers log them.
func Internal() Problem {
	return NewProblem(http.StatusInternalServerError, CodeInternal, MsgInternal)
}

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes the failure body.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	WriteJSON(w, p.Status, p)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeJSON reads a single JSON document into dst, rejecting unknown fields and trailing data.
// Failures come back as a validation Problem.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return Validation(map[string][]string{"body": {"El cuerpo de la solicitud es obligatorio."}})
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return Validation(map[string][]string{"body": {"El cuerpo de la solicitud es obligatorio."}})
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Validation(map[string][]string{typeErr.Field: {"Tipo de dato inválido."}})
		}
		if strings.HasPrefix(err.Error(), "json: unknown field ") {
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return Validation(map[string][]string{field: {"Campo no permitido."}})
		}
		return Validation(map[string][]string{"body": {"JSON mal formado."}})
	}
	if dec.More() {
		return Validation(map[string][]string{"body": {"Se esperaba un solo documento JSON."}})
	}
	return nil
}

// AsProblem extracts a Problem from err when one is wrapped in it.
func AsProblem(err error) (Problem, bool) {
	var p Problem
	if errors.As(err, &p) {
		return p, true
	}
	return Problem{}, false
}
