package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEntityID(t *testing.T) {
	valid := []string{"light.kitchen", "sensor.outdoor_temp_2", "binary_sensor.door"}
	for _, id := range valid {
		assert.NoError(t, ValidateEntityID(id), id)
	}

	invalid := []string{"", "light", "light.", ".kitchen", "Light.kitchen", "light.kitchen.extra", "light.kit chen", "light.kitchen<"}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateEntityID(id), ErrInvalidEntityID, id)
	}
}

func TestPartialState_Validate(t *testing.T) {
	deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": 1}}}}}

	tests := []struct {
		name    string
		change  PartialState
		wantErr bool
	}{
		{"state only", PartialState{State: "on"}, false},
		{"attributes only", PartialState{Attributes: map[string]any{"brightness": 100, "rgb_color": []any{255, 0, 0}}}, false},
		{"service only", PartialState{Service: "homeassistant.toggle"}, false},
		{"empty", PartialState{}, true},
		{"long state", PartialState{State: strings.Repeat("x", MaxStateLength+1)}, true},
		{"script state", PartialState{State: "<script>x</script>"}, true},
		{"javascript url", PartialState{Attributes: map[string]any{"url": "JavaScript:alert(1)"}}, true},
		{"event handler", PartialState{Attributes: map[string]any{"label": `<img src=x onerror=alert(1)>`}}, true},
		{"nested script", PartialState{Attributes: map[string]any{"cfg": map[string]any{"items": []any{"ok", "<script>"}}}}, true},
		{"bad key", PartialState{Attributes: map[string]any{"bad key": 1}}, true},
		{"too deep", PartialState{Attributes: map[string]any{"x": deep}}, true},
		{"bad service", PartialState{Service: "Turn On"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidState)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
