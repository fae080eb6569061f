// Package auth issues and checks the bearer tokens that protect the local
// API when security.jwt.enabled is set.
//
// Tokens are HS256 JWTs carrying a subject and one of two roles. A viewer
// can only read; an operator can also control recordings and edit
// presets. There is no user database: operators mint tokens with the
// "pimonitor token" command using the shared secret.
package auth
