// Package docs registers the OpenAPI description served at /swagger/*any.
// Regenerate with: swag init -g cmd/kisanchat/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/conversations": {
            "get": {
                "security": [{"UserID": []}],
                "produces": ["application/json"],
                "tags": ["conversations"],
                "summary": "List my conversations",
                "parameters": [
                    {"type": "string", "description": "all, unread or pinned", "name": "filter", "in": "query"},
                    {"type": "string", "description": "Case-insensitive match on name, location or last message", "name": "q", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            },
            "post": {
                "security": [{"UserID": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["conversations"],
                "summary": "Find or create the conversation with another user",
                "responses": {
                    "200": {"description": "Existing conversation", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.APIResponse"}}
                }
            }
        },
        "/conversations/{id}/messages": {
            "get": {
                "security": [{"UserID": []}],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Message history, newest first",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "string", "description": "RFC3339 cursor", "name": "before", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            },
            "post": {
                "security": [{"UserID": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Send a message; resending the same request_id returns the stored message",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Duplicate request_id", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "503": {"description": "Retry with the same request_id", "schema": {"$ref": "#/definitions/response.APIResponse"}}
                }
            }
        },
        "/offers": {
            "post": {
                "security": [{"UserID": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["offers"],
                "summary": "Make a price offer on a listing",
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/offers/{id}/payments": {
            "post": {
                "security": [{"UserID": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["offers"],
                "summary": "Record a UPI payment for an accepted offer",
                "parameters": [
                    {"type": "string", "description": "Offer ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "201": {"description": "Payment recorded and offer completed", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "202": {"description": "Payment recorded, completion pending", "schema": {"$ref": "#/definitions/response.APIResponse"}},
                    "409": {"description": "Offer not accepted", "schema": {"$ref": "#/definitions/response.APIResponse"}}
                }
            }
        },
        "/ws/chat": {
            "get": {
                "tags": ["chat"],
                "summary": "Open the chat websocket",
                "parameters": [
                    {"type": "string", "description": "Caller user UUID when the X-User-ID header cannot be set", "name": "user_id", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "response.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "code": {"type": "string"},
                "data": {}
            }
        }
    },
    "securityDefinitions": {
        "UserID": {"type": "apiKey", "name": "X-User-ID", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "KisanMandi Chat API",
	Description:      "Farmer and trader messaging: conversations, messages, presence, typing, offers and payments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
