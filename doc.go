// Package authapi is an authentication service that signs users in with an
// OAuth 2.0 provider and keeps their provider credentials usable.
//
// A sign-in starts at the initiate endpoint, which issues a single-use CSRF
// state and returns the provider authorization URL carrying it. The provider
// redirects back to the callback endpoint, where the state is consumed, the
// code is exchanged, the user is resolved in the directory and the
// credential record is persisted. The client receives the access token in
// transport form, both as a cookie and in the response body.
//
// The authorize endpoint accepts that token, and when the access token
// behind it has expired it is refreshed at the provider and the rotated
// token is handed back.
//
// Basic usage:
//
//	svc, err := authapi.NewService(authapi.ServiceConfig{
//		Provider:    spotifyProvider,
//		States:      stateManager,
//		Credentials: credentialStore,
//		Refresher:   orchestrator,
//		Directory:   directoryClient,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	handler := authapi.NewHandler(svc, authapi.DefaultConfig())
//	defer handler.Close()
//	http.ListenAndServe(":8080", handler.Routes())
package authapi
