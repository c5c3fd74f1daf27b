// Package authapi is the HTTP adapter over the session lifecycle.
//
// The refresh secret travels only in the mkt_refresh cookie, scoped to the
// /auth prefix. Every rotation rejection collapses into one generic 401.
package authapi
