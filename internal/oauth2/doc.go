// Package oauth2 obtains and caches the bearer token used to authenticate
// event deliveries.
//
// The Manager performs an OAuth2 password-grant exchange against
// <host>/services/oauth2/token and stores the resulting access token in a
// TokenStorage under a fixed key with a five hour TTL. Concurrent callers
// that miss the cache share one in-flight exchange.
//
// Two storage backends are provided:
//
//   - MemoryTokenStorage keeps the token in process using go-cache.
//   - RedisTokenStorage keeps it in Redis so restarts and sibling processes
//     reuse a still-valid token.
//
// Usage:
//
//	manager := oauth2.NewManager(oauth2.Config{
//		Host:         "https://example.my.salesforce.com",
//		ClientID:     consumerKey,
//		ClientSecret: consumerSecret,
//		Username:     username,
//		Password:     password,
//	}, oauth2.NewMemoryTokenStorage())
//
//	token, err := manager.GetToken(ctx)
//
// When a sink rejects a token, call Invalidate so the next GetToken performs
// a fresh exchange.
package oauth2
