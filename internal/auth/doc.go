// Package auth authenticates inbox API callers.
//
// Callers present an HS256 JWT whose "sub" claim is their user ID, either
// in an "Authorization: Bearer" header or, for WebSocket upgrades, in the
// access_token query parameter. HTTPAuthMiddleware verifies it and stores
// the user ID in the request context:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier, logger)(api))
//
//	userID := auth.MustUser(r.Context())
//
// Tokens are issued with JWTVerifier.Generate (see the inbox-gateway token
// command). Secrets shorter than MinSecretLength are rejected.
package auth
