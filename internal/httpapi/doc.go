// Package httpapi serves the dashboard's REST interface.
//
// Routes:
//
//	GET    /health                           connection and store health (no auth)
//	GET    /metrics                          Prometheus exposition (no auth)
//	GET    /api/states                       every entity state
//	GET    /api/states/{entity_id}           one entity state
//	POST   /api/states/{entity_id}           apply a partial state change
//	GET    /api/states/{entity_id}/stream    Server-Sent Events of state changes
//	GET    /api/floorplans                   list floor plans
//	POST   /api/floorplans                   create a floor plan
//	GET    /api/floorplans/{id}              get a floor plan
//	PUT    /api/floorplans/{id}              replace a floor plan (version checked)
//	DELETE /api/floorplans/{id}              delete a floor plan
//	...    /api/plugins[/{id}]               same as floor plans, for plugins
//
// Every /api route requires a bearer token. Errors are returned as
// {"error": "...", "details": "..."} with a status derived from the
// error's sentinel.
package httpapi
