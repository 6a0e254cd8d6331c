package openapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds the OpenAPI 3.0 document for the query service.
type Generator struct {
	version string
	baseURL string
	specURL string
}

// NewGenerator creates a new OpenAPI spec generator. specPath is where the
// JSON document is served; the docs page loads it from there.
func NewGenerator(version, baseURL, specPath string) *Generator {
	return &Generator{version: version, baseURL: baseURL, specURL: specPath}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	queryBody := map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": ref("QueryRequest"),
			},
		},
	}
	badRequest := g.buildResponseWithSchema("Empty or malformed question", "#/components/schemas/OperationOutcome")

	paths := map[string]interface{}{
		"/query": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Answer a natural language question",
				"operationId": "processQuery",
				"tags":        []string{"Query"},
				"requestBody": queryBody,
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Pipeline result, possibly partial", "#/components/schemas/PipelineResult"),
					"400": badRequest,
				},
			},
		},
		"/query/translate": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Translate a question without fetching records",
				"operationId": "translateQuery",
				"tags":        []string{"Query"},
				"requestBody": queryBody,
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Translation", "#/components/schemas/Translation"),
					"400": badRequest,
				},
			},
		},
		"/health": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Liveness",
				"operationId": "health",
				"tags":        []string{"Health"},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Service is up"},
				},
			},
		},
		"/health/upstream": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Last record server probe",
				"operationId": "upstreamHealth",
				"tags":        []string{"Health"},
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Record server reachable", "#/components/schemas/ProbeStatus"),
					"503": g.buildResponseWithSchema("Record server unreachable", "#/components/schemas/ProbeStatus"),
				},
			},
		},
		"/api/v1/terminology/conditions": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "List the condition table",
				"operationId": "listConditions",
				"tags":        []string{"Terminology"},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Condition table entries",
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": arrayOf(ref("TermEntry")),
							},
						},
					},
				},
			},
		},
		"/api/v1/terminology/conditions/lookup": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Resolve a phrase to a coded condition",
				"operationId": "lookupCondition",
				"tags":        []string{"Terminology"},
				"parameters": []map[string]interface{}{
					{"name": "phrase", "in": "query", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Matched condition", "#/components/schemas/ConditionTerm"),
					"400": g.buildResponseWithSchema("Missing phrase", "#/components/schemas/OperationOutcome"),
					"404": g.buildResponseWithSchema("No match", "#/components/schemas/OperationOutcome"),
				},
			},
		},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "FHIR NLP Service",
			"version":     g.version,
			"description": "Natural language questions compiled to FHIR R4 searches",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}
}

func (g *Generator) buildResponseWithSchema(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func arrayOf(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func prop(typ string) map[string]interface{} {
	return map[string]interface{}{"type": typ}
}

func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"QueryRequest": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": prop("string")},
			"required":   []string{"query"},
		},
		"ConditionTerm": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"term":           prop("string"),
				"canonical_term": prop("string"),
				"code":           prop("string"),
				"system":         map[string]interface{}{"type": "string", "format": "uri"},
				"display":        prop("string"),
			},
		},
		"TermEntry": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"canonical_term": prop("string"),
				"code":           prop("string"),
				"system":         map[string]interface{}{"type": "string", "format": "uri"},
				"display":        prop("string"),
				"variants":       arrayOf(prop("string")),
			},
		},
		"AgeFilter": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"operator": map[string]interface{}{"type": "string", "enum": []string{">", "<", "range"}},
				"value":    prop("integer"),
				"min":      prop("integer"),
				"max":      prop("integer"),
			},
			"required": []string{"operator"},
		},
		"ExtractedIntent": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"conditions":     arrayOf(ref("ConditionTerm")),
				"age_filters":    arrayOf(ref("AgeFilter")),
				"gender":         map[string]interface{}{"type": "string", "enum": []string{"male", "female"}, "nullable": true},
				"query_intent":   map[string]interface{}{"type": "string", "enum": []string{"search", "count", "aggregate"}},
				"resource_types": arrayOf(prop("string")),
			},
		},
		"CompiledQuery": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"resourceType": prop("string"),
				"parameters": map[string]interface{}{
					"type":        "object",
					"description": "Search parameters in compiled order; a repeated parameter is an array",
					"additionalProperties": map[string]interface{}{
						"oneOf": []interface{}{prop("string"), arrayOf(prop("string"))},
					},
				},
				"_include": arrayOf(prop("string")),
				"_count":   prop("integer"),
			},
		},
		"Translation": map[string]interface{}{
			"type":       "object",
			"properties": translationProperties(),
		},
		"FetchSummary": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"state":   map[string]interface{}{"type": "string", "enum": []string{"complete", "aborted"}},
				"pages":   prop("integer"),
				"total":   prop("integer"),
				"partial": prop("boolean"),
				"error":   prop("string"),
			},
		},
		"PipelineResult": map[string]interface{}{
			"type": "object",
			"properties": mergeProperties(translationProperties(), map[string]interface{}{
				"results": arrayOf(map[string]interface{}{"type": "object", "description": "FHIR resource as returned by the record server"}),
				"fetch":   ref("FetchSummary"),
			}),
		},
		"ProbeStatus": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":          prop("string"),
				"up":           prop("boolean"),
				"status_code":  prop("integer"),
				"fhir_version": prop("string"),
				"software":     prop("string"),
				"error":        prop("string"),
				"latency_ms":   prop("integer"),
				"checked_at":   map[string]interface{}{"type": "string", "format": "date-time"},
			},
		},
		"OperationOutcome": buildOperationOutcomeSchema(),
	}
}

func translationProperties() map[string]interface{} {
	return map[string]interface{}{
		"original_query":     prop("string"),
		"extracted_entities": ref("ExtractedIntent"),
		"fhir_query":         ref("CompiledQuery"),
		"fhir_url":           map[string]interface{}{"type": "string", "format": "uri"},
	}
}

func buildOperationOutcomeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
			"issue": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"severity": map[string]interface{}{
							"type": "string",
							"enum": []string{"fatal", "error", "warning", "information"},
						},
						"code":        prop("string"),
						"diagnostics": prop("string"),
						"expression":  arrayOf(prop("string")),
					},
					"required": []string{"severity", "code"},
				},
			},
		},
		"required": []string{"resourceType", "issue"},
	}
}

// mergeProperties merges additional properties into a base map.
func mergeProperties(base, extra map[string]interface{}) map[string]interface{} {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>FHIR NLP Service - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "{{SPEC_URL}}",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// DocsHTML returns the Swagger UI page pointed at the OpenAPI document.
func (g *Generator) DocsHTML() string {
	return strings.Replace(swaggerUIHTML, "{{SPEC_URL}}", g.specURL, 1)
}

// RegisterRoutes registers the OpenAPI endpoints on the API group. The
// group prefix must match the specPath given to NewGenerator.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, g.DocsHTML())
	})
}
