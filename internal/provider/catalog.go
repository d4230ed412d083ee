package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Vendor names an upstream model provider.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGemini    Vendor = "gemini"
)

// ErrUnknownVendor is returned when no vendor matches a label or model id.
var ErrUnknownVendor = errors.New("provider: unable to determine vendor")

// Model describes a selectable model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var catalog = map[Vendor][]Model{
	VendorOpenAI: {
		{ID: "gpt-4o", Name: "gpt-4o", Description: "OpenAI GPT-4o"},
		{ID: "gpt-4", Name: "gpt-4", Description: "OpenAI GPT-4"},
		{ID: "gpt-3.5-turbo", Name: "gpt-3.5-turbo", Description: "OpenAI GPT-3.5 Turbo"},
	},
	VendorAnthropic: {
		{ID: "claude-3-opus-20240229", Name: "claude-3-opus-20240229", Description: "Claude 3 Opus"},
		{ID: "claude-3-sonnet-20240229", Name: "claude-3-sonnet-20240229", Description: "Claude 3 Sonnet"},
		{ID: "claude-3-haiku-20240307", Name: "claude-3-haiku-20240307", Description: "Claude 3 Haiku"},
	},
	VendorGemini: {
		{ID: "gemini-1.5-pro", Name: "gemini-1.5-pro", Description: "Gemini 1.5 Pro"},
		{ID: "gemini-2.0-flash", Name: "gemini-2.0-flash", Description: "Gemini 2.0 Flash"},
	},
}

// Models returns a copy of the catalog entries for vendor.
func Models(vendor Vendor) []Model {
	models := catalog[vendor]
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// VendorForLabel infers the vendor from a credential label such as "team gpt key".
func VendorForLabel(label string) (Vendor, error) {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "gpt"), strings.Contains(lower, "openai"):
		return VendorOpenAI, nil
	case strings.Contains(lower, "claude"), strings.Contains(lower, "anthropic"):
		return VendorAnthropic, nil
	case strings.Contains(lower, "gemini"):
		return VendorGemini, nil
	default:
		return "", fmt.Errorf("%w: label %q", ErrUnknownVendor, label)
	}
}

// VendorForModel maps a model id to its vendor by prefix.
func VendorForModel(modelID string) (Vendor, error) {
	lower := strings.ToLower(strings.TrimSpace(modelID))
	switch {
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return VendorOpenAI, nil
	case strings.HasPrefix(lower, "claude"):
		return VendorAnthropic, nil
	case strings.HasPrefix(lower, "gemini"):
		return VendorGemini, nil
	default:
		return "", fmt.Errorf("%w: model %q", ErrUnknownVendor, modelID)
	}
}
