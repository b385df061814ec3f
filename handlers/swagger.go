package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>paperhub - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the main endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "paperhub", "version": "v0.1.0" },
  "paths": {
    "/auth/login": {
      "post": { "summary": "Login (oidc or dev mode)", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"mode":{"type":"string"},"idToken":{"type":"string"},"username":{"type":"string"}}}}}}, "responses": { "200": { "description": "tokens returned" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Refresh access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "new access token" }, "401": { "description": "invalid refresh" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Logout and invalidate refresh token", "responses": { "200": { "description": "logged out" } } }
    },
    "/api/papers": {
      "get": { "summary": "List papers", "responses": { "200": { "description": "paper list" } } },
      "post": { "summary": "Create a paper", "responses": { "201": { "description": "created" }, "400": { "description": "validation failed" } } }
    },
    "/api/papers/{id}": {
      "get": { "summary": "Get one paper", "responses": { "200": { "description": "paper" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Edit title/content (author only)", "responses": { "200": { "description": "updated" }, "403": { "description": "forbidden" } } },
      "delete": { "summary": "Delete paper and cascade comments", "responses": { "200": { "description": "cascade result" }, "403": { "description": "forbidden" } } }
    },
    "/api/papers/{id}/like": {
      "post": { "summary": "Toggle like (atomic)", "responses": { "200": { "description": "updated paper" }, "409": { "description": "retry budget exhausted" } } }
    },
    "/api/papers/{id}/comments": {
      "get": { "summary": "List comments ordered by timestamp", "responses": { "200": { "description": "comments" } } },
      "post": { "summary": "Add a comment", "responses": { "201": { "description": "created" } } }
    },
    "/api/comments/{id}": {
      "delete": { "summary": "Delete own comment", "responses": { "204": { "description": "deleted" }, "403": { "description": "forbidden" } } }
    },
    "/api/session": {
      "get": { "summary": "Current session view (papers, focus, comments)", "responses": { "200": { "description": "session state" } } }
    },
    "/api/session/select": {
      "post": { "summary": "Focus a paper and subscribe to its comments", "responses": { "200": { "description": "selected" } } }
    },
    "/ws": { "get": { "summary": "Websocket stream of live snapshots", "responses": { "101": { "description": "upgraded" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
