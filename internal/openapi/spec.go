// Package openapi generates the OpenAPI 3.1 document describing the keygate
// HTTP API. The document is built once at startup and served verbatim.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

func strSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func objSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

func jsonBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	body := openapi3.NewRequestBody().WithRequired(true)
	body.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	return &openapi3.RequestBodyRef{Value: body}
}

func jsonResponse(desc string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	resp := openapi3.NewResponse().WithDescription(desc)
	resp.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	return &openapi3.ResponseRef{Value: resp}
}

func op(tag, summary string, body *openapi3.RequestBodyRef, responses map[string]*openapi3.ResponseRef) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.Tags = []string{tag}
	o.Summary = summary
	o.RequestBody = body
	o.Responses = openapi3.NewResponses()
	for code, r := range responses {
		o.Responses.Set(code, r)
	}
	return o
}

// GenerateSpec builds the full keygate API document.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "License activation service: public activation protocol plus an authenticated admin API.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{{URL: baseURL}},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Components.Schemas["Envelope"] = objSchema(openapi3.Schemas{
		"success": boolSchema(),
		"data":    &openapi3.SchemaRef{Value: &openapi3.Schema{}},
		"error":   strSchema(),
	}, "success")

	doc.Components.Schemas["ActivateRequest"] = objSchema(openapi3.Schemas{
		"appName":    strSchema(),
		"licenseKey": strSchema(),
		"machineId":  strSchema(),
		"appVersion": strSchema(),
		"shopName":   strSchema(),
		"metadata":   strSchema(),
	}, "appName", "licenseKey", "machineId", "appVersion")

	doc.Components.Schemas["TokenRequest"] = objSchema(openapi3.Schemas{
		"appName":         strSchema(),
		"machineId":       strSchema(),
		"activationToken": strSchema(),
	}, "appName", "machineId", "activationToken")

	doc.Components.Schemas["LoginRequest"] = objSchema(openapi3.Schemas{
		"email":    strSchema(),
		"password": strSchema(),
	}, "email", "password")

	doc.Components.Schemas["IssueRequest"] = objSchema(openapi3.Schemas{
		"appName":         strSchema(),
		"count":           intSchema(),
		"maxActivations":  intSchema(),
		"expiresAt":       strSchema(),
		"lockedMachineId": strSchema(),
		"metadata":        strSchema(),
	}, "appName")

	envelope := ref("Envelope")
	okResp := map[string]*openapi3.ResponseRef{
		"200": jsonResponse("Success", envelope),
		"400": jsonResponse("Invalid request", envelope),
	}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/api/v1/license/activate", &openapi3.PathItem{
		Post: op("license", "Activate a license on a machine", jsonBody(ref("ActivateRequest")),
			map[string]*openapi3.ResponseRef{
				"200": jsonResponse("Seat claimed; activation token minted", envelope),
				"400": jsonResponse("Invalid request", envelope),
				"403": jsonResponse("License inactive, expired, or machine-locked", envelope),
				"404": jsonResponse("Unknown app or license key", envelope),
				"409": jsonResponse("Activation limit reached", envelope),
			}),
	})
	doc.Paths.Set("/api/v1/license/validate", &openapi3.PathItem{
		Post: op("license", "Validate an activation token", jsonBody(ref("TokenRequest")),
			map[string]*openapi3.ResponseRef{
				"200": jsonResponse("Validation verdict, valid or not", envelope),
				"400": jsonResponse("Invalid request", envelope),
			}),
	})
	doc.Paths.Set("/api/v1/license/deactivate", &openapi3.PathItem{
		Post: op("license", "Release an activated seat", jsonBody(ref("TokenRequest")),
			map[string]*openapi3.ResponseRef{
				"200": jsonResponse("Seat released", envelope),
				"400": jsonResponse("Invalid request or rejected release", envelope),
			}),
	})

	doc.Paths.Set("/api/v1/admin/session", &openapi3.PathItem{
		Post:   op("session", "Log in", jsonBody(ref("LoginRequest")), okResp),
		Get:    op("session", "Current admin", nil, okResp),
		Delete: op("session", "Log out", nil, okResp),
	})

	doc.Paths.Set("/api/v1/admin/licenses", &openapi3.PathItem{
		Get:  op("licenses", "List licenses", nil, okResp),
		Post: op("licenses", "Issue license keys", jsonBody(ref("IssueRequest")), okResp),
	})
	doc.Paths.Set("/api/v1/admin/licenses/{licenseId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("licenseId").WithSchema(openapi3.NewStringSchema())}},
		Get:        op("licenses", "Get a license with usage", nil, okResp),
		Patch:      op("licenses", "Update a license", nil, okResp),
		Delete:     op("licenses", "Delete a license and its history", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/licenses/{licenseId}/status", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("licenseId").WithSchema(openapi3.NewStringSchema())}},
		Put:        op("licenses", "Activate or revoke a license", nil, okResp),
	})

	doc.Paths.Set("/api/v1/admin/activations", &openapi3.PathItem{
		Get:  op("activations", "List activations", nil, okResp),
		Post: op("activations", "Record a pending activation", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/activations/stats", &openapi3.PathItem{
		Get: op("activations", "Activation counts by status", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/activations/{activationId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("activationId").WithSchema(openapi3.NewStringSchema())}},
		Get:        op("activations", "Get one activation", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/activations/{activationId}/logs", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("activationId").WithSchema(openapi3.NewStringSchema())}},
		Get:        op("activations", "Audit trail for an activation", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/activations/{activationId}/approve", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("activationId").WithSchema(openapi3.NewStringSchema())}},
		Post:       op("activations", "Approve a pending activation", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/activations/{activationId}/revoke", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("activationId").WithSchema(openapi3.NewStringSchema())}},
		Post:       op("activations", "Force-release a seat", nil, okResp),
	})

	doc.Paths.Set("/api/v1/admin/apps", &openapi3.PathItem{
		Get:  op("apps", "List apps", nil, okResp),
		Post: op("apps", "Register an app", nil, okResp),
	})
	doc.Paths.Set("/api/v1/admin/apps/{appId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{{Value: openapi3.NewPathParameter("appId").WithSchema(openapi3.NewStringSchema())}},
		Get:        op("apps", "Get an app", nil, okResp),
		Patch:      op("apps", "Update an app", nil, okResp),
		Delete:     op("apps", "Delete an app and everything under it", nil, okResp),
	})

	return doc
}
