// Package openapi builds the OpenAPI 3.1 description of the gateway API.
// The route table is fixed, so the document is assembled in code rather than
// generated from runtime state; a test keeps it in step with the router.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gatewarden/gatewarden/internal/signing"
)

// Version is the version reported in the served document.
const Version = "1.0.0"

// Generate builds the complete OpenAPI document for the gateway.
func Generate() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Gatewarden API",
			Description: "Credential issuance, request admission, and quota enforcement in front of oracle market tools.",
			Version:     Version,
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key (gwk_…) on the tool surface, session JWT on the management surface.",
		},
	}
	doc.Components.SecuritySchemes["signature"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        signing.Header,
			Description: "Hex HMAC-SHA256 of the request body, for pre-shared-secret service callers.",
		},
	}

	doc.Paths = openapi3.NewPaths()

	addSchemas(doc)
	addProbePaths(doc)
	addToolPaths(doc)
	addUserPaths(doc)
	addAdminPaths(doc)

	return doc
}

// ─── Component Schemas ──────────────────────────────────────────────────────

func addSchemas(doc *openapi3.T) {
	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"ok": boolSchema("Always false on errors."),
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"string"},
						Description: "Machine-readable rejection code.",
						Enum: []interface{}{
							"invalid_credential", "malformed_request", "permission_denied",
							"quota_exceeded", "upstream_unavailable", "invalid_request",
							"not_found", "internal",
						},
					},
				},
			},
			Required: []string{"ok", "error"},
		},
	}

	doc.Components.Schemas["APIKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          strSchema("Key identifier (UUID)."),
				"key_prefix":  strSchema("Non-secret display prefix of the issued secret."),
				"owner_id":    strSchema("Owning subject."),
				"org_id":      strSchema("Owning organization, if any."),
				"label":       strSchema("Free-form label."),
				"permissions": strArraySchema("Granted permission tokens."),
				"tier":        tierSchema(),
				"is_active":   boolSchema("False once revoked."),
				"expires_at":  timeSchema("Expiry instant; absent keys never expire."),
				"created_at":  timeSchema(""),
				"last_used_at": timeSchema("Last admitted request, if any."),
				"usage_count": intSchema("Admitted requests served with this key.", "int64"),
			},
		},
	}

	doc.Components.Schemas["CreatedKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"key":    openapi3.NewSchemaRef("#/components/schemas/APIKey", nil),
				"secret": strSchema("The plaintext key. Returned exactly once."),
			},
			Required: []string{"key", "secret"},
		},
	}

	doc.Components.Schemas["UsageSummary"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"subject": strSchema("The quota subject."),
				"tier":    tierSchema(),
				"windows": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"object"},
						Description: "Current fixed-window state per request class.",
						AdditionalProperties: openapi3.AdditionalProperties{
							Schema: &openapi3.SchemaRef{
								Value: &openapi3.Schema{
									Type: &openapi3.Types{"object"},
									Properties: openapi3.Schemas{
										"limit":     intSchema("Window ceiling; 0 means unthrottled.", "int32"),
										"used":      intSchema("Requests consumed in the current window.", "int32"),
										"remaining": intSchema("Requests left in the current window.", "int32"),
									},
								},
							},
						},
					},
				},
				"keys":        intSchema("Total keys ever issued to the subject.", "int32"),
				"active_keys": intSchema("Keys currently usable.", "int32"),
				"usage_count": intSchema("Cumulative admitted requests across all keys.", "int64"),
			},
		},
	}

	doc.Components.Schemas["AuditRecord"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":            strSchema("Record identifier (UUID)."),
				"actor":         strSchema("Subject that caused the event, or \"unknown\"."),
				"action":        strSchema("Event name, e.g. key_created, auth_rejected."),
				"resource_type": strSchema("api_key, route, or session."),
				"resource_id":   strSchema(""),
				"outcome":       strSchema("success, denied, or error."),
				"detail": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"object"},
						Description: "Event-specific fields. Never contains secrets.",
						AdditionalProperties: openapi3.AdditionalProperties{
							Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
				"origin":     strSchema("Remote address of the triggering request."),
				"created_at": timeSchema(""),
			},
		},
	}

	doc.Components.Schemas["PriceQuote"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"symbol":   strSchema("Normalized symbol."),
				"price":    numSchema("Quote in the listed currency."),
				"currency": strSchema(""),
				"source":   strSchema("Upstream data source."),
				"as_of":    timeSchema(""),
			},
		},
	}

	doc.Components.Schemas["MarketAnalysis"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"symbol":     strSchema("Normalized symbol."),
				"horizon":    strSchema("Analysis horizon, e.g. 24h."),
				"trend":      strSchema("bullish, bearish, or neutral."),
				"confidence": numSchema("Confidence in [0.5, 1.0)."),
				"summary":    strSchema(""),
			},
		},
	}

	doc.Components.Schemas["FeedReceipt"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"symbol":      strSchema("Normalized symbol."),
				"price":       numSchema("Accepted observation."),
				"round":       intSchema("Submission round for the symbol.", "int64"),
				"accepted":    boolSchema(""),
				"recorded_at": timeSchema(""),
			},
		},
	}
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addProbePaths(doc *openapi3.T) {
	statusSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"status": strSchema("ok or degraded."),
			},
		},
	}

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"probes"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Responses:   newResponses("200", "Process is alive", statusSchema),
		},
	})

	readySchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"status": strSchema("ok or degraded."),
				"checks": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"object"},
						Description: "Per-dependency result, keyed by dependency name.",
						AdditionalProperties: openapi3.AdditionalProperties{
							Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
			},
		},
	}

	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"probes"},
			Summary:     "Readiness probe",
			Description: "Verifies the store and quota backend are reachable.",
			OperationID: "readyz",
			Responses:   newResponses("200", "All dependencies reachable", readySchema, "503"),
		},
	})
}

func addToolPaths(doc *openapi3.T) {
	security := openapi3.SecurityRequirements{
		{"bearerAuth": {}},
		{"signature": {}},
	}

	priceReq := objectSchema(openapi3.Schemas{
		"symbol": strSchema("Market symbol, e.g. BTC."),
	}, "symbol")

	doc.Paths.Set("/tools/get_price", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"tools"},
			Summary:     "Get the current price for a symbol",
			OperationID: "get_price",
			Security:    &security,
			RequestBody: jsonBody("Symbol to quote", priceReq),
			Responses: newResponses("200", "Current quote",
				envelope("#/components/schemas/PriceQuote"),
				"400", "401", "403", "429", "503"),
		},
	})

	analyzeReq := objectSchema(openapi3.Schemas{
		"symbol":  strSchema("Market symbol, e.g. BTC."),
		"horizon": strSchema("Optional horizon, defaults to 24h."),
	}, "symbol")

	doc.Paths.Set("/tools/analyze_market", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"tools"},
			Summary:     "Analyze market trend for a symbol",
			OperationID: "analyze_market",
			Security:    &security,
			RequestBody: jsonBody("Symbol and optional horizon", analyzeReq),
			Responses: newResponses("200", "Trend assessment",
				envelope("#/components/schemas/MarketAnalysis"),
				"400", "401", "403", "429", "503"),
		},
	})

	feedReq := objectSchema(openapi3.Schemas{
		"symbol": strSchema("Market symbol, e.g. BTC."),
		"price":  numSchema("Observed price, must be positive."),
		"source": strSchema("Optional source identifier."),
	}, "symbol", "price")

	doc.Paths.Set("/tools/feed_oracle", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"tools"},
			Summary:     "Submit a price observation",
			Description: "Requires tools:write. The response body is signed; the signature is returned in " + signing.Header + ".",
			OperationID: "feed_oracle",
			Security:    &security,
			RequestBody: jsonBody("Price observation", feedReq),
			Responses: newResponses("200", "Accepted observation",
				envelope("#/components/schemas/FeedReceipt"),
				"400", "401", "403", "429", "503"),
		},
	})

	doc.Paths.Set("/tools/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"tools"},
			Summary:     "Downstream runner liveness",
			OperationID: "tools_health",
			Responses: newResponses("200", "Runner reachable",
				envelope(""), "503"),
		},
	})
}

func addUserPaths(doc *openapi3.T) {
	security := openapi3.SecurityRequirements{{"bearerAuth": {}}}

	createReq := objectSchema(openapi3.Schemas{
		"label":           strSchema("Free-form label."),
		"permissions":     strArraySchema("Permission tokens; defaults to tools:read."),
		"tier":            tierSchema(),
		"expires_at":      timeSchema("Absolute expiry. Mutually exclusive with expires_in_days."),
		"expires_in_days": intSchema("Relative expiry in days.", "int32"),
	})

	doc.Paths.Set("/user/api-keys", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Issue a new API key",
			Description: "The plaintext secret appears in this response only.",
			OperationID: "create_key",
			Security:    &security,
			RequestBody: jsonBody("Key parameters", createReq),
			Responses: newResponses("201", "Issued key with one-time secret",
				envelope("#/components/schemas/CreatedKey"),
				"400", "401", "403"),
		},
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List the caller's keys",
			OperationID: "list_keys",
			Security:    &security,
			Responses: newResponses("200", "Keys owned by the caller",
				keyList(), "401"),
		},
	})

	updateReq := objectSchema(openapi3.Schemas{
		"label":       strSchema("New label."),
		"permissions": strArraySchema("Replacement permission set."),
	})

	doc.Paths.Set("/user/api-keys/{keyID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Patch: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Update a key's label or permissions",
			OperationID: "update_key",
			Security:    &security,
			RequestBody: jsonBody("Fields to change", updateReq),
			Responses: newResponses("200", "Updated key",
				envelope("#/components/schemas/APIKey"),
				"400", "401", "404"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke a key",
			Description: "Idempotent; revoking an already-revoked key reports changed=false.",
			OperationID: "revoke_key",
			Security:    &security,
			Responses: newResponses("200", "Revocation state",
				envelope(""), "401", "404"),
		},
	})

	doc.Paths.Set("/user/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Quota and usage summary for the caller",
			OperationID: "usage_summary",
			Security:    &security,
			Responses: newResponses("200", "Current windows and cumulative usage",
				envelope("#/components/schemas/UsageSummary"),
				"401", "503"),
		},
	})

	doc.Paths.Set("/org/api-keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List keys across the caller's organization",
			OperationID: "list_org_keys",
			Security:    &security,
			Responses: newResponses("200", "Keys in the organization",
				keyList(), "401", "403"),
		},
	})
}

func addAdminPaths(doc *openapi3.T) {
	security := openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Paths.Set("/admin/api-keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "List every key in the system",
			OperationID: "admin_list_keys",
			Security:    &security,
			Responses: newResponses("200", "All keys, active or not",
				keyList(), "401", "403"),
		},
	})

	tierReq := objectSchema(openapi3.Schemas{
		"tier": tierSchema(),
	}, "tier")

	doc.Paths.Set("/admin/api-keys/{keyID}/tier", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Put: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Change a key's tier",
			OperationID: "change_tier",
			Security:    &security,
			RequestBody: jsonBody("Target tier", tierReq),
			Responses: newResponses("200", "Key after the change",
				envelope("#/components/schemas/APIKey"),
				"400", "401", "403", "404"),
		},
	})

	doc.Paths.Set("/admin/purge-expired", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Delete expired keys now",
			OperationID: "purge_expired",
			Security:    &security,
			Responses: newResponses("200", "Count of purged keys",
				envelope(""), "401", "403"),
		},
	})

	doc.Paths.Set("/admin/audit", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Query the audit trail",
			OperationID: "list_audit",
			Security:    &security,
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("actor").
						WithDescription("Filter by acting subject.").
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("action").
						WithDescription("Filter by event name.").
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("since").
						WithDescription("Earliest event time (RFC 3339).").
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("until").
						WithDescription("Latest event time (RFC 3339).").
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("limit").
						WithDescription("Maximum records to return (default 100, max 1000).").
						WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
				},
			},
			Responses: newResponses("200", "Matching records, newest first",
				envelope(""), "401", "403"),
		},
	})
}

// ─── Schema Helpers ─────────────────────────────────────────────────────────

func strSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
}

func boolSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: desc}}
}

func numSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double", Description: desc}}
}

func intSchema(desc, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: format, Description: desc}}
}

func timeSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", Description: desc}}
}

func tierSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"string"},
			Enum: []interface{}{"free", "pro", "enterprise"},
		},
	}
}

func strArraySchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"array"},
			Description: desc,
			Items:       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
		},
	}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		},
	}
}

// envelope wraps an inner schema in the {ok, data} success shape. An empty
// ref yields a free-form data object.
func envelope(ref string) *openapi3.SchemaRef {
	data := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	if ref != "" {
		data = openapi3.NewSchemaRef(ref, nil)
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"ok":   boolSchema("Always true on success."),
				"data": data,
			},
			Required: []string{"ok"},
		},
	}
}

// keyList is the {keys, count} payload inside the success envelope.
func keyList() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"ok": boolSchema("Always true on success."),
				"data": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"keys": &openapi3.SchemaRef{
								Value: &openapi3.Schema{
									Type:  &openapi3.Types{"array"},
									Items: openapi3.NewSchemaRef("#/components/schemas/APIKey", nil),
								},
							},
							"count": intSchema("", "int32"),
						},
					},
				},
			},
		},
	}
}

// ─── Request/Response Helpers ───────────────────────────────────────────────

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func keyIDParam() *openapi3.ParameterRef {
	p := openapi3.NewPathParameter("keyID")
	p.Description = "Key identifier."
	p.Schema = &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
	return &openapi3.ParameterRef{Value: p}
}

var errorDescriptions = map[string]string{
	"400": "Invalid request",
	"401": "Invalid or missing credential",
	"403": "Permission denied",
	"404": "Not found",
	"429": "Quota exceeded",
	"503": "Upstream unavailable",
}

// newResponses builds a Responses map with one success response plus the
// uniform error envelope for each listed status code.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		if desc == "" {
			desc = "Error"
		}
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	return responses
}
