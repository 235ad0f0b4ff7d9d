package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData(pass bool) TemplateData {
	return BuildTemplateData(
		map[string]any{"program": 3, "result": pass, "Area": "250.5", "Judge": "OK"},
		"0b6f", 3, "192.168.1.233", pass,
	)
}

func TestRender_ResultFields(t *testing.T) {
	out, err := Render(`{{cycle.status | upper}} {{cycle.host}}: area={{result.Area}} judge={{result.Judge}}`, sampleData(true))
	require.NoError(t, err)
	assert.Equal(t, "PASS 192.168.1.233: area=250.5 judge=OK", out)
}

func TestRender_CycleFields(t *testing.T) {
	out, err := Render(`{{cycle.id}} p{{cycle.program}} {{result.result}}`, sampleData(false))
	require.NoError(t, err)
	assert.Equal(t, "0b6f p3 false", out)
}

func TestRender_StatusEmoji(t *testing.T) {
	tests := []struct {
		pass  bool
		emoji string
	}{
		{true, "\U0001f7e2"},
		{false, "\U0001f534"},
	}
	for _, tt := range tests {
		out, err := Render(`{{cycle.status_emoji}}`, sampleData(tt.pass))
		require.NoError(t, err)
		assert.Equal(t, tt.emoji, out)
	}
	assert.Equal(t, "❓", statusEmoji("other"))
}

func TestRender_MissingField(t *testing.T) {
	out, err := Render(`[{{result.Nope}}]`, sampleData(true))
	require.NoError(t, err)
	assert.Equal(t, "[<no value>]", out)
}

func TestRender_SprigFunctions(t *testing.T) {
	out, err := Render(`{{result.Judge | lower | repeat 2}}`, sampleData(true))
	require.NoError(t, err)
	assert.Equal(t, "okok", out)
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render(`{{cycle.id`, sampleData(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing template")
}

func TestRender_DefaultTemplate(t *testing.T) {
	out, err := Render(DefaultTemplate, sampleData(false))
	require.NoError(t, err)
	assert.Equal(t, "\U0001f534 program 3 on 192.168.1.233: FAIL", out)
}

func TestBuildTemplateData_CopiesFields(t *testing.T) {
	fields := map[string]any{"X": "1.5"}
	data := BuildTemplateData(fields, "id", 0, "h", true)
	fields["X"] = "changed"
	assert.Equal(t, "1.5", data.Result["X"])
}
