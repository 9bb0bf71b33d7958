package api

// @title devgate admin API
// @version v1
// @description Inspect proxy rules and recorded traffic of a running devgate dev server.

// @license.name MIT

// @host localhost:5173
// @BasePath /__devgate/api
// @schemes http
