package response

import (
	"encoding/json"
	"net/http"
)

// Envelope wraps every successful payload under a data key.
type Envelope struct {
	Data any `json:"data"`
}

// OK sends a 200 OK response with the payload wrapped in the data envelope.
func OK(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, Envelope{Data: data})
}

// Created sends a 201 Created response with the payload wrapped in the data envelope.
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, Envelope{Data: data})
}

// NoContent sends a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
