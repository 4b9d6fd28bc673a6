package poster

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransientStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{code: http.StatusTooManyRequests, want: true},
		{code: http.StatusInternalServerError, want: true},
		{code: http.StatusBadGateway, want: true},
		{code: http.StatusServiceUnavailable, want: true},
		{code: http.StatusBadRequest, want: false},
		{code: http.StatusUnauthorized, want: false},
		{code: http.StatusForbidden, want: false},
		{code: http.StatusNotFound, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, transientStatus(tt.code), "status %d", tt.code)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{name: "bool true", in: true, want: true},
		{name: "bool false", in: false, want: false},
		{name: "string true", in: "true", want: true},
		{name: "string TRUE", in: "TRUE", want: true},
		{name: "string one", in: "1", want: true},
		{name: "string no", in: "no", want: false},
		{name: "nonzero number", in: float64(1), want: true},
		{name: "zero number", in: float64(0), want: false},
		{name: "nil", in: nil, want: false},
		{name: "unsupported type", in: []string{"true"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truthy(tt.in))
		})
	}
}

func TestJMESPathLibEvaluator_Validate(t *testing.T) {
	evaluator := jmespathLibEvaluator{}

	assert.NoError(t, evaluator.Validate(""), "empty expressions are disabled, not invalid")
	assert.NoError(t, evaluator.Validate("   "))
	assert.NoError(t, evaluator.Validate("error.message"))
	assert.Error(t, evaluator.Validate("[invalid"))
}

func TestGraphAPI_StringField(t *testing.T) {
	api := graphAPI{evaluator: jmespathLibEvaluator{}}

	tests := []struct {
		name    string
		expr    string
		decoded map[string]any
		want    string
		wantOK  bool
	}{
		{
			name:    "string value",
			expr:    "id",
			decoded: map[string]any{"id": "thread-1"},
			want:    "thread-1",
			wantOK:  true,
		},
		{
			name:    "nested path",
			expr:    "error.message",
			decoded: map[string]any{"error": map[string]any{"message": "nope"}},
			want:    "nope",
			wantOK:  true,
		},
		{
			name:    "numeric id rendered without exponent",
			expr:    "id",
			decoded: map[string]any{"id": float64(17901234567)},
			want:    "17901234567",
			wantOK:  true,
		},
		{
			name:    "empty string treated as missing",
			expr:    "id",
			decoded: map[string]any{"id": ""},
			wantOK:  false,
		},
		{
			name:    "missing field",
			expr:    "id",
			decoded: map[string]any{},
			wantOK:  false,
		},
		{
			name:    "empty expression disabled",
			expr:    "",
			decoded: map[string]any{"id": "thread-1"},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := api.stringField(tt.decoded, tt.expr)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGraphAPI_ShadowFlag(t *testing.T) {
	api := graphAPI{evaluator: jmespathLibEvaluator{}, extract: extraction{shadow: "shadow_banned"}}

	assert.True(t, api.shadowFlag(map[string]any{"shadow_banned": true}))
	assert.False(t, api.shadowFlag(map[string]any{"shadow_banned": false}))
	assert.False(t, api.shadowFlag(map[string]any{}))

	disabled := graphAPI{evaluator: jmespathLibEvaluator{}}
	assert.False(t, disabled.shadowFlag(map[string]any{"shadow_banned": true}))
}
