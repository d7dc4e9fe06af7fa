package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
defaults:
  request_config:
    method: GET
  pagination_config:
    enabled: true
    type: offset
    offset_param: offset
    page_size: 50

sources:
  - id: grants-gov
    name: Grants.gov
    organization: Grants.gov
    type: federal
    base_url: https://api.grants.gov
    handler_type: standard
    active: true
    auth:
      type: none
    configuration:
      response_mapping:
        title: title
        description: description

  - id: sam-gov
    name: SAM.gov
    organization: SAM.gov
    type: federal
    base_url: https://api.sam.gov
    handler_type: standard
    active: true
    auth:
      type: none
    configuration:
      request_config:
        method: POST
      response_mapping:
        title: title
`

func writeSeedFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))
	return path
}

func TestLoadSourceSeedsAppliesDefaults(t *testing.T) {
	path := writeSeedFile(t)

	sources, err := LoadSourceSeeds(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	grants := sources[0]
	assert.Equal(t, "grants-gov", grants.ID)
	assert.True(t, grants.Configuration.Pagination.Enabled)
	assert.Equal(t, "offset", string(grants.Configuration.Pagination.Type))
	assert.Equal(t, 50, grants.Configuration.Pagination.PageSize)
	assert.Equal(t, "GET", string(grants.Configuration.Request.Method))
}

func TestLoadSourceSeedsPreservesPerSourceOverride(t *testing.T) {
	path := writeSeedFile(t)

	sources, err := LoadSourceSeeds(path)
	require.NoError(t, err)

	sam := sources[1]
	assert.Equal(t, "POST", string(sam.Configuration.Request.Method))
	assert.True(t, sam.Configuration.Pagination.Enabled, "pagination default should still be merged in")
}

func TestLoadSourceSeedsRejectsInvalidSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - id: ""
    name: missing-id
    type: federal
    handler_type: standard
`), 0o644))

	_, err := LoadSourceSeeds(path)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadSourceSeedsMissingFile(t *testing.T) {
	_, err := LoadSourceSeeds("/nonexistent/sources.yaml")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}
