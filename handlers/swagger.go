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
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(swaggerHTML))
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>cacatua-api Swagger</title>
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

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "cacatua-api", "version": "v1.0.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } } },
  "paths": {
    "/api/Auth/login": {
      "post": {
        "summary": "Sign in with email and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email","password"],"properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "message, user, jwt and refresh" }, "400": { "description": "missing fields" }, "401": { "description": "invalid email or password" }, "500": { "description": "store or provider failure" } }
      }
    },
    "/api/Auth/check-jwt": {
      "get": { "summary": "Check an access token", "parameters": [{"name":"jwtToken","in":"query","schema":{"type":"string"}}], "responses": { "200": { "description": "valid" }, "401": { "description": "invalid" } } }
    },
    "/api/Auth/refresh": {
      "post": { "summary": "Exchange a refresh token for a new pair", "requestBody": { "content": { "application/json": { "schema": {"type":"string"}}}}, "responses": { "200": { "description": "jwt and refreshToken" }, "400": { "description": "missing token" }, "401": { "description": "invalid or expired refresh token" } } }
    },
    "/api/Auth/logout": {
      "post": { "summary": "Revoke every refresh token of the caller", "security": [{"bearer": []}], "requestBody": { "content": { "application/json": { "schema": {"type":"string"}}}}, "responses": { "200": { "description": "logged out" }, "400": { "description": "user id mismatch" }, "401": { "description": "missing or invalid bearer" } } }
    },
    "/api/Auth/me": {
      "get": { "summary": "Profile of the caller", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "404": { "description": "no profile" } } }
    },
    "/api/Message/send-message-async": {
      "post": { "summary": "Send a chat message", "security": [{"bearer": []}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["chatUid","text"],"properties":{"text":{"type":"string"},"chatUid":{"type":"string"},"serverUid":{"type":"string"}}}}}}, "responses": { "200": { "description": "stored message" }, "400": { "description": "invalid message" } } }
    },
    "/api/Message/{channel}": {
      "get": { "summary": "Recent messages, oldest first", "security": [{"bearer": []}], "parameters": [{"name":"channel","in":"path","required":true,"schema":{"type":"string"}},{"name":"limit","in":"query","schema":{"type":"integer"}}], "responses": { "200": { "description": "messages" } } }
    },
    "/api/Message/{channel}/stream": {
      "get": { "summary": "Live message feed (text/event-stream)", "security": [{"bearer": []}], "parameters": [{"name":"channel","in":"path","required":true,"schema":{"type":"string"}}], "responses": { "200": { "description": "events: ready, message, ping" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
