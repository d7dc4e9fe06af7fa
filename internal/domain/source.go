package domain

import "time"

// AuthDescriptor describes how the coordinator authenticates to a Source's
// external API. Exactly one of the typed sub-fields is populated, selected
// by Type.
type AuthDescriptor struct {
	Type AuthType `json:"type" yaml:"type"`

	// APIKey fields, valid when Type == AuthTypeAPIKey.
	APIKeyName     string         `json:"api_key_name,omitempty" yaml:"api_key_name,omitempty"`
	APIKeyValue    string         `json:"api_key_value,omitempty" yaml:"api_key_value,omitempty"`
	APIKeyLocation APIKeyLocation `json:"api_key_location,omitempty" yaml:"api_key_location,omitempty"`

	// Basic auth fields, valid when Type == AuthTypeBasic.
	BasicUser string `json:"basic_user,omitempty" yaml:"basic_user,omitempty"`
	BasicPass string `json:"basic_pass,omitempty" yaml:"basic_pass,omitempty"`

	// Bearer token, valid when Type == AuthTypeBearer.
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
}

// Validate checks that the descriptor is well-formed for its declared Type.
func (a AuthDescriptor) Validate() error {
	if !a.Type.IsValid() {
		return NewFieldError("auth_type", "unrecognized auth type %q", a.Type)
	}
	switch a.Type {
	case AuthTypeNone:
		return nil
	case AuthTypeAPIKey:
		if a.APIKeyName == "" || a.APIKeyValue == "" {
			return NewFieldError("auth", "api-key auth requires key-name and key-value")
		}
		if !a.APIKeyLocation.IsValid() {
			return NewFieldError("auth", "api-key auth requires a valid location")
		}
	case AuthTypeBasic:
		if a.BasicUser == "" || a.BasicPass == "" {
			return NewFieldError("auth", "basic auth requires user and pass")
		}
	case AuthTypeBearer:
		if a.BearerToken == "" {
			return NewFieldError("auth", "bearer auth requires a token")
		}
	}
	return nil
}

// Source is a declarative description of an external HTTP API that
// publishes funding opportunity records.
type Source struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Organization string         `json:"organization" yaml:"organization,omitempty"`
	Type         SourceType     `json:"type" yaml:"type"`
	BaseURL      string         `json:"base_url" yaml:"base_url,omitempty"`
	APIEndpoint  string         `json:"api_endpoint,omitempty" yaml:"api_endpoint,omitempty"`
	Auth         AuthDescriptor `json:"auth" yaml:"auth,omitempty"`
	HandlerType  HandlerType    `json:"handler_type" yaml:"handler_type"`

	UpdateCadence string `json:"update_cadence" yaml:"update_cadence,omitempty"`
	Active        bool   `json:"active" yaml:"active"`

	ForceFullReprocessing bool `json:"force_full_reprocessing" yaml:"force_full_reprocessing,omitempty"`

	LastCheckedAt *time.Time `json:"last_checked_at,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"-"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" yaml:"-"`

	Configuration SourceConfiguration `json:"configuration" yaml:"configuration,omitempty"`
}

// Validate enforces the Source invariants from §3: well-formed auth, and
// (when active) mandatory fields populated.
func (s Source) Validate() error {
	if s.ID == "" {
		return NewFieldError("id", "required")
	}
	if s.Name == "" {
		return NewFieldError("name", "required")
	}
	if !s.Type.IsValid() {
		return NewFieldError("type", "unrecognized source type %q", s.Type)
	}
	if !s.HandlerType.IsValid() {
		return NewFieldError("handler_type", "unrecognized handler type %q", s.HandlerType)
	}
	if err := s.Auth.Validate(); err != nil {
		return err
	}
	if s.Active {
		if s.BaseURL == "" {
			return NewFieldError("base_url", "required when source is active")
		}
		if s.Organization == "" {
			return NewFieldError("organization", "required when source is active")
		}
	}
	return nil
}

// IsDeleted reports whether the source has been soft-deleted.
func (s Source) IsDeleted() bool {
	return s.DeletedAt != nil
}
