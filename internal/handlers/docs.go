package handlers

import (
	"encoding/json"
	"net/http"
)

func nullableNumber() map[string]interface{} {
	return map[string]interface{}{"type": "number", "nullable": true}
}

func dateParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "string", "format": "date"},
	}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func errorRef(description string) map[string]interface{} {
	return jsonResponse(description, map[string]string{"$ref": "#/components/schemas/Error"})
}

func arrayOf(ref string) map[string]interface{} {
	return map[string]interface{}{
		"type":  "array",
		"items": map[string]string{"$ref": "#/components/schemas/" + ref},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 document for the climate API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	statsResponses := map[string]interface{}{
		"200": jsonResponse("One-element list; values are null when no measurement matches", arrayOf("TemperatureStats")),
		"400": errorRef("Date is not YYYY-MM-DD"),
		"503": errorRef("Database unavailable"),
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Hawaii Climate API",
			"description": "Read-only queries over daily precipitation and temperature measurements from Hawaii weather stations",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/v1.0/precipitation": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Precipitation for the last 365 days",
					"description": "Every measurement dated within 365 days of the latest recorded date, in storage order. Each element is a single-key object mapping date to precipitation (null when not reported).",
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type":                 "object",
								"additionalProperties": nullableNumber(),
							},
						}),
						"404": errorRef("No measurements recorded"),
						"503": errorRef("Database unavailable"),
					},
				},
			},
			"/api/v1.0/station": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List stations",
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", arrayOf("Station")),
						"503": errorRef("Database unavailable"),
					},
				},
			},
			"/api/v1.0/tobs": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Temperature observations for the most active station",
					"description": "Observations for the configured most active station within 365 days of the latest recorded date",
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", arrayOf("TemperatureObservation")),
						"404": errorRef("No measurements recorded"),
						"503": errorRef("Database unavailable"),
					},
				},
			},
			"/api/v1.0/{start}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Temperature statistics from a start date",
					"parameters": []map[string]interface{}{dateParam("start", "Inclusive start date (YYYY-MM-DD)")},
					"responses":  statsResponses,
				},
			},
			"/api/v1.0/{start}/{end}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Temperature statistics between two dates",
					"parameters": []map[string]interface{}{
						dateParam("start", "Inclusive start date (YYYY-MM-DD)"),
						dateParam("end", "Inclusive end date (YYYY-MM-DD)"),
					},
					"responses": statsResponses,
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Database reachable"},
						"503": map[string]string{"description": "Database unreachable"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Station": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"station_id":   map[string]string{"type": "integer"},
						"station":      map[string]string{"type": "string"},
						"station_name": map[string]string{"type": "string"},
					},
				},
				"TemperatureObservation": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"date": map[string]string{"type": "string", "format": "date"},
						"tobs": map[string]string{"type": "number"},
					},
				},
				"TemperatureStats": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"min": nullableNumber(),
						"max": nullableNumber(),
						"avg": nullableNumber(),
					},
				},
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
