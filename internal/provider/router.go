package provider

import (
	"context"
	"net/http"
)

// Router dispatches calls to the client of the vendor that serves a model.
type Router struct {
	clients map[Vendor]*Client
}

// NewRouter builds one client per vendor. Missing or empty base URLs fall back to the vendor defaults.
func NewRouter(baseURLs map[Vendor]string, httpClient *http.Client) *Router {
	defaults := map[Vendor]string{
		VendorOpenAI:    DefaultOpenAIBaseURL,
		VendorAnthropic: DefaultAnthropicBaseURL,
		VendorGemini:    DefaultGeminiBaseURL,
	}
	clients := make(map[Vendor]*Client, len(defaults))
	for vendor, baseURL := range defaults {
		if override := baseURLs[vendor]; override != "" {
			baseURL = override
		}
		clients[vendor] = NewClient(baseURL, httpClient)
	}
	return &Router{clients: clients}
}

// Call routes by model id and returns the vendor-reported completion.
func (router *Router) Call(ctx context.Context, secret string, modelID string, prompt string) (Completion, error) {
	vendor, err := VendorForModel(modelID)
	if err != nil {
		return Completion{}, err
	}
	return router.clients[vendor].Complete(ctx, secret, modelID, prompt)
}

// ModelsFor returns the vendor and catalog for a credential label.
func (router *Router) ModelsFor(label string) (Vendor, []Model, error) {
	vendor, err := VendorForLabel(label)
	if err != nil {
		return "", nil, err
	}
	return vendor, Models(vendor), nil
}
