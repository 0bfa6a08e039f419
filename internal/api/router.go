package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KohoVolit/api.parldata.eu/internal/entityservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced on writes.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *entityservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// SSE endpoint, registered before the resource routes.
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	r.Get("/", h.ListResources)

	// Resource collections.
	r.Get("/{resource}", h.List)
	r.Post("/{resource}", h.Create)
	r.Delete("/{resource}", h.DeleteAll)

	// Items.
	r.Get("/{resource}/{id}", h.Get)
	r.Patch("/{resource}/{id}", h.Update)
	r.Put("/{resource}/{id}", h.Replace)
	r.Delete("/{resource}/{id}", h.Delete)

	// Mirrored files of an item.
	r.Get("/{resource}/{id}/assets", h.Assets)

	return r
}
