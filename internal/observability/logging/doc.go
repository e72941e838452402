// Package logging holds the slog setup shared by the api and worker binaries.
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	func (h ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.WithRequestID(r.Context(), h.Logger)
//	    logger.Info("listing notifications")
//	}
package logging
