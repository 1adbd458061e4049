package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/mindcare/triage-server/internal/middleware"
)

// Routes bundles the handlers mounted under /api/v1.
type Routes struct {
	Cases     *CaseHandler
	Console   *ConsoleHandler
	Integrity *IntegrityHandler
	Health    *HealthHandler
	JWTSecret string
}

// Mount registers the API on r.
func (rt Routes) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", rt.Health.Check)
		r.Get("/health/ready", rt.Health.Ready)

		// Requester endpoints (anonymous; the case id is the capability)
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", rt.Cases.Create)
			r.Get("/{caseID}", rt.Cases.Get)
			r.Post("/{caseID}/messages", rt.Cases.SubmitMessage)
			r.Post("/{caseID}/contacts", rt.Cases.AddContact)
			r.Post("/{caseID}/end", rt.Cases.End)
		})

		// Counselor console
		r.Route("/console", func(r chi.Router) {
			r.Use(middleware.RequireRole(rt.JWTSecret, "counselor", "admin"))
			r.Get("/cases", rt.Console.List)
			r.Get("/cases/{caseID}", rt.Console.Get)
			r.Post("/cases/{caseID}/assign", rt.Console.Assign)
			r.Post("/cases/{caseID}/messages", rt.Console.SubmitMessage)
			r.Post("/cases/{caseID}/end", rt.Console.End)
			r.Get("/cases/{caseID}/interventions", rt.Console.Interventions)
			r.Post("/cases/{caseID}/contacts/{contactID}/notify", rt.Console.NotifyContact)
		})

		// Analytics (aggregate levels only)
		r.Route("/analytics", func(r chi.Router) {
			r.Use(middleware.RequireRole(rt.JWTSecret, "admin"))
			r.Get("/risk", rt.Console.RiskDistribution)
		})

		// Integrity endpoints (Merkle tree over the intervention trail)
		r.Route("/integrity", func(r chi.Router) {
			r.Get("/root", rt.Integrity.GetRoot)
			r.Get("/proof/{index}", rt.Integrity.GetProof)
			r.Post("/verify", rt.Integrity.Verify)
		})
	})
}
