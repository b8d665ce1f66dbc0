// Package client is the Go SDK for the roomd HTTP API.
//
//	cli, err := client.New("http://127.0.0.1:9341", client.WithUser("alice"))
//	if err != nil { ... }
//	booking, err := cli.Reserve(ctx, roomID, "2026-01-20", "2026-01-22")
//
// Non-2xx responses are returned as *APIError carrying the decoded
// api.ErrorResponse. Requests that fail with a retryable status (503 or 429
// with a Retry-After hint) are retried up to WithFailureRetries times.
package client
