package director

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gimbal"
)

// TestOperator_WriteReport tests the HTML report with embedded tracking shots
func TestOperator_WriteReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report", "index.html")

	result, err := NewOperator(t, quietRoot(), dir).
		Start().
		AddContext("player").
		Activate("aim", gimbal.LayerMain, "player", fixed("aim", 20)).
		Run(5).
		ActivateWithTrackingShot("orbit", gimbal.LayerMain, "player", boom("orbit", 90)).
		WriteReport(path, "orbit <switch>")
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(content)

	assert.Contains(t, html, "<title>orbit &lt;switch&gt; - gimbal report</title>")
	assert.Contains(t, html, ">PASSED<")
	assert.Contains(t, html, "data:image/png;base64,")
	assert.Contains(t, html, "<td>stop</td>")
}

// TestWriteReport_Failure tests that failures and trips are rendered escaped
func TestWriteReport_Failure(t *testing.T) {
	d := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("aim", gimbal.LayerMain, "player", fixed("aim", 20)).
		Run(1).
		AssertActiveRig("<missing>")
	result := d.Stop()
	require.False(t, result.Success)

	path := filepath.Join(t.TempDir(), "failed.html")
	require.NoError(t, WriteReport(path, result.Report("failure")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(content)

	assert.Contains(t, html, ">FAILED<")
	assert.Contains(t, html, "&lt;missing&gt;")
	assert.NotContains(t, html, "<missing>")
	assert.NotContains(t, html, "data:image/png")
}
