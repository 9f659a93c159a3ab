// Package providers defines the OAuth provider interface and the token and
// identity types exchanged with it.
//
// Implementations are provided in subpackages:
//   - providers/spotify: Spotify accounts service and Web API
//   - providers/mock: mock provider for testing
//
// Provider implementations handle:
//   - Authorization URL generation
//   - Authorization code exchange
//   - Identity lookup for an access token
//   - Token refresh
//
// Example usage:
//
//	provider, err := spotify.NewProvider(&spotify.Config{
//	    ClientID:     "your-client-id",
//	    ClientSecret: "your-client-secret",
//	    RedirectURL:  "http://localhost:8080/authentication/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	url := provider.AuthorizationURL(state)
package providers
