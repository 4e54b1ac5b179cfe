// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import "net/http"

// Middleware resolves the API version for a request. Clients pin a
// date with the Sessiond-Version header; requests without one get the
// latest behavior. The resolved date goes into the request context for
// handlers and is echoed on the response so clients can see what they
// were served.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := r.Header.Get(Header)
		if requested == "" {
			requested = LatestVersion
		}

		w.Header().Set(Header, requested)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requested)))
	})
}
