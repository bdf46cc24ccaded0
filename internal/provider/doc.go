// Package provider is the catalog of OAuth2 providers steward can log in to,
// together with the server providers (remote relays) that can run OAuth on the
// client's behalf.
//
// Built-in providers are seeded once; user-added providers carry IsCustom and
// are the only ones the management surface may edit or delete. The whole
// catalog lives in a single encrypted vault document.
package provider
