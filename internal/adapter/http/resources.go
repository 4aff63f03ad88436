package http

import (
	"context"
	"net/http"
)

// Handlers for routes that address one resource by a single path key, such
// as a user ID or thread ID. missing is the 404 message.

// pathKey reads the path parameter param, answering 400 when it is empty.
func pathKey(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	key := urlParam(r, param)
	return key, requireField(w, key, param)
}

func serveOne[T any](param, missing string, get func(context.Context, string) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathKey(w, r, param)
		if !ok {
			return
		}
		v, err := get(r.Context(), key)
		if err != nil {
			writeDomainError(w, err, missing)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// serveMany always answers with a JSON array, never null.
func serveMany[T any](param, missing string, list func(context.Context, string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathKey(w, r, param)
		if !ok {
			return
		}
		items, err := list(r.Context(), key)
		if err != nil {
			writeDomainError(w, err, missing)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func serveReplace[Req, Res any](param, missing string, put func(context.Context, string, Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathKey(w, r, param)
		if !ok {
			return
		}
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		v, err := put(r.Context(), key, req)
		if err != nil {
			writeDomainError(w, err, missing)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
