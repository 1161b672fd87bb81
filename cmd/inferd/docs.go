package main

// General API documentation for swaggo. Run `swag init -g cmd/inferd/docs.go
// -o internal/httpapi/docs` to regenerate.
//
// @title           inferd API
// @version         1.0
// @description     Local inference gateway with a single model slot and a semantic response cache.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
