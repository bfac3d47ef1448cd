// Package api provides the LS Securities OpenAPI REST client.
//
// REST endpoint:
//   - Production: https://openapi.ls-sec.co.kr:8080
//
// The client issues OAuth2 access tokens (POST /oauth2/token) and executes
// TR requests such as the t8430 stock master (POST /stock/etc), which maps
// short codes to their listing venue.
package api
