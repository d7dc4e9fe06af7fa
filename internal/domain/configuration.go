package domain

// SourceConfiguration bundles the runtime knobs that tell a DataExtractor
// how to talk to one Source's external API: where parameters go, how to
// page through results, whether a per-item detail call is needed, and how
// raw response fields map onto canonical Opportunity fields.
type SourceConfiguration struct {
	QueryParams map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`
	RequestBody map[string]any    `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	Request     RequestConfig     `json:"request_config" yaml:"request_config,omitempty"`
	Pagination  PaginationConfig  `json:"pagination_config" yaml:"pagination_config,omitempty"`
	Detail      DetailConfig      `json:"detail_config" yaml:"detail_config,omitempty"`
	Mapping     ResponseMapping   `json:"response_mapping" yaml:"response_mapping,omitempty"`
}

// RequestConfig describes the base fetch request.
type RequestConfig struct {
	Method  HTTPMethod        `json:"method" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// PaginationConfig describes how the extractor advances through result pages.
//
// Exactly one of (OffsetParam), (PageParam), (CursorParam+NextCursorPath) is
// meaningful, selected by Type.
type PaginationConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Type    PaginationType `json:"type,omitempty" yaml:"type,omitempty"`

	LimitParam string `json:"limit_param,omitempty" yaml:"limit_param,omitempty"`
	PageSize   int    `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	MaxPages   int    `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`

	// offset-style
	OffsetParam string `json:"offset_param,omitempty" yaml:"offset_param,omitempty"`
	// page-style
	PageParam string `json:"page_param,omitempty" yaml:"page_param,omitempty"`
	// cursor-style
	CursorParam    string `json:"cursor_param,omitempty" yaml:"cursor_param,omitempty"`
	NextCursorPath string `json:"next_cursor_path,omitempty" yaml:"next_cursor_path,omitempty"`

	Placement ParamPlacement `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// Validate enforces that the pagination config is internally consistent
// with its declared Type (§3).
func (p PaginationConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if !p.Type.IsValid() {
		return NewFieldError("pagination_config.type", "unrecognized pagination type %q", p.Type)
	}
	if p.Placement != "" && !p.Placement.IsValid() {
		return NewFieldError("pagination_config.placement", "unrecognized placement %q", p.Placement)
	}
	switch p.Type {
	case PaginationTypeOffset:
		if p.OffsetParam == "" {
			return NewFieldError("pagination_config.offset_param", "required for offset pagination")
		}
	case PaginationTypePage:
		if p.PageParam == "" {
			return NewFieldError("pagination_config.page_param", "required for page pagination")
		}
	case PaginationTypeCursor:
		if p.CursorParam == "" || p.NextCursorPath == "" {
			return NewFieldError("pagination_config.cursor_param", "cursor pagination requires cursor_param and next_cursor_path")
		}
	}
	return nil
}

// DetailConfig describes an optional per-item detail fetch issued for each
// extracted record (e.g. to retrieve a full description not present in the
// list response).
type DetailConfig struct {
	Enabled          bool              `json:"enabled" yaml:"enabled"`
	Endpoint         string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Method           HTTPMethod        `json:"method,omitempty" yaml:"method,omitempty"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	IDField          string            `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	IDParam          string            `json:"id_param,omitempty" yaml:"id_param,omitempty"`
	ResponseDataPath string            `json:"response_data_path,omitempty" yaml:"response_data_path,omitempty"`
}

// Validate enforces that a disabled detail config carries no stray fields
// and an enabled one carries the minimum required fields (§3).
func (d DetailConfig) Validate() error {
	if !d.Enabled {
		if d.Endpoint != "" || d.Method != "" || len(d.Headers) > 0 || d.IDField != "" || d.IDParam != "" || d.ResponseDataPath != "" {
			return NewFieldError("detail_config.enabled", "detail fields must be empty when detail fetch is disabled")
		}
		return nil
	}
	if d.Endpoint == "" {
		return NewFieldError("detail_config.endpoint", "required when detail fetch is enabled")
	}
	if d.IDField == "" || d.IDParam == "" {
		return NewFieldError("detail_config.id_field", "id_field and id_param are required when detail fetch is enabled")
	}
	return nil
}

// ResponseMapping maps dot-notation source field paths onto canonical
// Opportunity fields.
type ResponseMapping map[string]CanonicalField

// Validate checks that every mapped target is a recognized canonical field
// and every source path is non-empty dot notation.
func (m ResponseMapping) Validate() error {
	for path, field := range m {
		if path == "" {
			return NewFieldError("response_mapping", "source field path must not be empty")
		}
		if !field.IsValid() {
			return NewFieldError("response_mapping", "unrecognized canonical field %q for path %q", field, path)
		}
	}
	return nil
}

// Validate runs all sub-part validations for the configuration bundle.
func (c SourceConfiguration) Validate() error {
	if !c.Request.Method.IsValid() {
		return NewFieldError("request_config.method", "unrecognized method %q", c.Request.Method)
	}
	if err := c.Pagination.Validate(); err != nil {
		return err
	}
	if err := c.Detail.Validate(); err != nil {
		return err
	}
	return c.Mapping.Validate()
}
