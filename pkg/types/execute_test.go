package types

import (
	"strings"
	"testing"
)

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		req   ExecuteRequest
		field string
	}{
		{"missing model", ExecuteRequest{Method: "search"}, "model"},
		{"missing method", ExecuteRequest{Model: "res.partner"}, "method"},
		{"read without ids", ExecuteRequest{Model: "res.partner", Method: "read"}, "ids"},
		{"write without ids", ExecuteRequest{Model: "res.partner", Method: "write", Values: map[string]any{"a": 1}}, "ids"},
		{"unlink without ids", ExecuteRequest{Model: "res.partner", Method: "unlink"}, "ids"},
		{"create without values", ExecuteRequest{Model: "res.partner", Method: "create"}, "values"},
		{"write without values", ExecuteRequest{Model: "res.partner", Method: "write", IDs: []int64{1}}, "values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestValidate_UnsupportedMethod(t *testing.T) {
	req := ExecuteRequest{Model: "res.partner", Method: "execute_kw"}
	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
	ve := err.(*ValidationError)
	if ve.Field != "method" {
		t.Errorf("expected field method, got %q", ve.Field)
	}
}

func TestValidate_NegativePaging(t *testing.T) {
	req := ExecuteRequest{Model: "res.partner", Method: "search", Limit: -1}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for negative limit")
	}
	req = ExecuteRequest{Model: "res.partner", Method: "search", Offset: -1}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestValidate_SizeLimits(t *testing.T) {
	req := ExecuteRequest{Model: strings.Repeat("m", MaxModelBytes+1), Method: "search"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for oversized model")
	}

	ids := make([]int64, MaxIDsCount+1)
	req = ExecuteRequest{Model: "res.partner", Method: "read", IDs: ids}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for too many ids")
	}

	fields := make([]string, MaxFieldsCount+1)
	req = ExecuteRequest{Model: "res.partner", Method: "search_read", Fields: fields}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for too many fields")
	}
}

func TestNormalize(t *testing.T) {
	req := ExecuteRequest{Model: "  res.partner  ", Method: " SEARCH_READ "}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Model != "res.partner" {
		t.Errorf("expected trimmed model, got %q", req.Model)
	}
	if req.Method != "search_read" {
		t.Errorf("expected lowercased method, got %q", req.Method)
	}
}

func TestValidate_OK(t *testing.T) {
	tests := []ExecuteRequest{
		{Model: "res.partner", Method: "search", Domain: []any{[]any{"is_company", "=", true}}, Limit: 5},
		{Model: "res.partner", Method: "search_count"},
		{Model: "res.partner", Method: "search_read", Fields: []string{"name"}, Offset: 10, Order: "name asc"},
		{Model: "res.partner", Method: "read", IDs: []int64{1, 2}},
		{Model: "res.partner", Method: "fields_get", Attributes: []string{"type"}},
		{Model: "res.partner", Method: "create", Values: map[string]any{"name": "Acme"}},
		{Model: "res.partner", Method: "write", IDs: []int64{1}, Values: map[string]any{"active": false}},
		{Model: "res.partner", Method: "unlink", IDs: []int64{9}},
	}
	for _, req := range tests {
		if err := req.Validate(); err != nil {
			t.Errorf("%s: unexpected error: %v", req.Method, err)
		}
	}
}

func TestIsWrite(t *testing.T) {
	writes := map[string]bool{
		"search": false, "search_count": false, "search_read": false,
		"read": false, "fields_get": false,
		"create": true, "write": true, "unlink": true,
	}
	for method, want := range writes {
		req := ExecuteRequest{Method: method}
		if got := req.IsWrite(); got != want {
			t.Errorf("%s: IsWrite=%v, want %v", method, got, want)
		}
	}
}
