package openapi

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestGenerateSpecValidates(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080")

	// Round-trip through the loader so schema refs are resolved before
	// validation.
	data, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	loader := openapi3.NewLoader()
	reloaded, err := loader.LoadFromData(data)
	if err != nil {
		t.Fatalf("reload spec: %v", err)
	}
	if err := reloaded.Validate(loader.Context); err != nil {
		t.Fatalf("spec does not validate: %v", err)
	}
}

func TestGenerateSpecCoversProtocol(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080")

	for _, path := range []string{
		"/api/v1/license/activate",
		"/api/v1/license/validate",
		"/api/v1/license/deactivate",
		"/api/v1/admin/session",
		"/api/v1/admin/licenses",
		"/api/v1/admin/activations",
		"/api/v1/admin/apps",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("path %s missing from spec", path)
		}
	}

	item := doc.Paths.Find("/api/v1/license/activate")
	if item.Post == nil {
		t.Fatal("activate has no POST operation")
	}
	for _, code := range []string{"200", "403", "404", "409"} {
		if item.Post.Responses.Value(code) == nil {
			t.Errorf("activate missing %s response", code)
		}
	}
}
