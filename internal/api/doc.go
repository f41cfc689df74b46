// Package api exposes the daemon's REST surface: the payment authorization
// endpoint, wallet management, and the consent pages a human uses to resolve
// pending approvals.
package api
