package httpapi

import "github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"

// sourceRequest is the shared shape of the source-create and source-update
// request bodies (§6: "Source-create body (JSON-shaped)"), matching the
// teacher's request/response struct split (pkg/api/requests.go).
type sourceRequest struct {
	Name                string `json:"name" binding:"required"`
	Organization        string `json:"organization"`
	Type                string `json:"type" binding:"required"`
	URL                 string `json:"url"`
	APIEndpoint         string `json:"api_endpoint"`
	APIDocumentationURL string `json:"api_documentation_url"`

	AuthType    string `json:"auth_type" binding:"required"`
	AuthDetails struct {
		APIKeyName     string `json:"api_key_name"`
		APIKeyValue    string `json:"api_key_value"`
		APIKeyLocation string `json:"api_key_location"`
		BasicUser      string `json:"basic_user"`
		BasicPass      string `json:"basic_pass"`
		BearerToken    string `json:"bearer_token"`
	} `json:"auth_details"`

	UpdateFrequency string `json:"update_frequency"`
	HandlerType     string `json:"handler_type" binding:"required"`
	Notes           string `json:"notes"`
	Active          bool   `json:"active"`

	Configurations struct {
		QueryParams     map[string]string         `json:"query_params"`
		RequestBody     map[string]any             `json:"request_body"`
		RequestConfig   domain.RequestConfig       `json:"request_config"`
		PaginationConfig domain.PaginationConfig   `json:"pagination_config"`
		DetailConfig    domain.DetailConfig        `json:"detail_config"`
		ResponseMapping domain.ResponseMapping     `json:"response_mapping"`
	} `json:"configurations"`
}

// toDomain builds a domain.Source from the wire request, carrying id (empty
// on create — the handler generates one) and the existing CreatedAt/force
// flag (update preserves what update doesn't name).
func (r sourceRequest) toDomain(id string) domain.Source {
	return domain.Source{
		ID:           id,
		Name:         r.Name,
		Organization: r.Organization,
		Type:         domain.SourceType(r.Type),
		BaseURL:      r.URL,
		APIEndpoint:  r.APIEndpoint,
		HandlerType:  domain.HandlerType(r.HandlerType),
		UpdateCadence: r.UpdateFrequency,
		Active:       r.Active,
		Auth: domain.AuthDescriptor{
			Type:           domain.AuthType(r.AuthType),
			APIKeyName:     r.AuthDetails.APIKeyName,
			APIKeyValue:    r.AuthDetails.APIKeyValue,
			APIKeyLocation: domain.APIKeyLocation(r.AuthDetails.APIKeyLocation),
			BasicUser:      r.AuthDetails.BasicUser,
			BasicPass:      r.AuthDetails.BasicPass,
			BearerToken:    r.AuthDetails.BearerToken,
		},
		Configuration: domain.SourceConfiguration{
			QueryParams: r.Configurations.QueryParams,
			RequestBody: r.Configurations.RequestBody,
			Request:     r.Configurations.RequestConfig,
			Pagination:  r.Configurations.PaginationConfig,
			Detail:      r.Configurations.DetailConfig,
			Mapping:     r.Configurations.ResponseMapping,
		},
	}
}

// forceFlagRequest is PUT /system-config/global_force_full_reprocessing's body.
type forceFlagRequest struct {
	Value bool `json:"value"`
}

// processOptionsRequest optionally overrides processSource's Options (§4.8
// step 1) from the trigger routes; all fields default to true when omitted.
type processOptionsRequest struct {
	OptimizationEnabled     *bool `json:"optimization_enabled"`
	EarlyDuplicateDetection *bool `json:"early_duplicate_detection"`
	MetricsCollection       *bool `json:"metrics_collection"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}
