package validation

import (
	stderrors "errors"
	"testing"
	"time"

	"salesforce-router/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkSettings struct {
	Host     string        `json:"salesforceHost" validate:"required,sink_host"`
	Method   string        `json:"eventMethodType" validate:"omitempty,http_method"`
	Interval time.Duration `json:"bufferInterval" validate:"duration"`
	Username string        `json:"username" validate:"required"`
}

func TestValidateStruct_SinkHost(t *testing.T) {
	tests := []struct {
		host    string
		wantErr bool
	}{
		{"http://bbc.co.uk", false},
		{"https://example.my.salesforce.com", false},
		{"not a url", true},
		{"ftp://bbc.co.uk", true},
		{"bbc.co.uk", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := ValidateStruct(sinkSettings{Host: tt.host, Username: "u"})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
				assert.Contains(t, err.Error(), "salesforceHost")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStruct_HTTPMethod(t *testing.T) {
	assert.NoError(t, ValidateStruct(sinkSettings{Host: "http://a.b", Username: "u", Method: "patch"}))

	err := ValidateStruct(sinkSettings{Host: "http://a.b", Username: "u", Method: "FETCH"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a valid HTTP method")
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(sinkSettings{Interval: -time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "field 'salesforceHost' is required")
	assert.Contains(t, err.Error(), "field 'username' is required")
	assert.Contains(t, err.Error(), "field 'bufferInterval' must be a valid duration")
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://x.y"))
	assert.False(t, IsHTTPURL("https://"))
	assert.False(t, IsHTTPURL("mailto:a@b.c"))
}

func TestFluentValidator(t *testing.T) {
	v := NewValidator().
		RequireString("  ", "SALESFORCE_USERNAME").
		RequirePositive(0, "BUFFER_LIMIT_BYTES").
		RequireRange(16, 0, 15, "REDIS_DB").
		RequireOneOf("TRACE", []string{"debug", "info"}, "LOG_LEVEL")

	assert.True(t, v.HasErrors())
	assert.Len(t, v.Result().Errors, 4)

	err := v.Error()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALESFORCE_USERNAME is required")
	assert.Contains(t, err.Error(), "REDIS_DB must be between 0 and 15")
	assert.Contains(t, err.Error(), "LOG_LEVEL must be one of: debug, info")
}

func TestFluentValidator_Clean(t *testing.T) {
	v := NewValidator().
		RequireString("user", "SALESFORCE_USERNAME").
		RequirePositive(1024, "BUFFER_LIMIT_BYTES").
		RequireOneOf("info", []string{"debug", "info"}, "LOG_LEVEL").
		ValidateIf(false, func() error { return stderrors.New("skipped") })

	assert.False(t, v.HasErrors())
	assert.NoError(t, v.Error())
}

func TestFluentValidator_Custom(t *testing.T) {
	v := NewValidator().
		ValidateIf(true, func() error { return stderrors.New("BUFFER_INTERVAL must be a positive duration") })

	require.True(t, v.HasErrors())
	assert.Equal(t, "validation: BUFFER_INTERVAL must be a positive duration", v.Error().Error())
	assert.Equal(t, "custom", v.Result().Errors[0].Field)
}
