package server

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.audits.healthHandler)
	s.router.Get("/health/live", livenessHandler)
	s.router.Get("/health/ready", s.audits.healthHandler)

	s.router.Get("/version", versionHandler)

	s.router.Post("/audits", s.audits.createHandler)
	s.router.Get("/audits", s.audits.listHandler)
	s.router.Get("/audits/{runID}", s.audits.getHandler)
}
