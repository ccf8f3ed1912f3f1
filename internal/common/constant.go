// Package common contains shared constants and sentinel errors used across
// tradeauth components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// AuthErrorTrailerName is the gRPC trailer key carrying the machine-readable
// kind of a failed authentication call.
const AuthErrorTrailerName = "x-auth-error"
