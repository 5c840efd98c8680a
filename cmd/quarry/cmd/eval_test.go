package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/eval"
)

// writeTestQrels writes judgments matching the test corpus terms.
func writeTestQrels(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "qrels.json")
	qrels := []*eval.Qrel{
		{Query: "axolotl gills", RelevantIDs: []string{"bio-0001"}},
		{Query: "printing press", RelevantIDs: []string{"hist-0001"}},
	}
	require.NoError(t, eval.WriteQrels(path, qrels))
	return path
}

func TestEvalCmd_RequiresIndex(t *testing.T) {
	// Given: judgments but no index
	tmpDir := t.TempDir()
	writeTestQrels(t, tmpDir)

	// When: evaluating
	_, err := runInTempDir(t, tmpDir, "eval", "--qrels", "qrels.json")

	// Then: error about missing index
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestEvalCmd_MissingQrelsErrors(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runInTempDir(t, tmpDir, "eval", "--qrels", "nope.json")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "qrels")
}

func TestEvalCmd_ScoresRetrieval(t *testing.T) {
	// Given: an indexed workspace and judgments for it
	tmpDir := t.TempDir()
	buildTestIndex(t, tmpDir)
	writeTestQrels(t, tmpDir)

	// When: evaluating at K=2 with a per-query CSV
	output, err := runInTempDir(t, tmpDir,
		"eval", "--qrels", "qrels.json", "--k", "2", "--csv")

	// Then: both queries hit their single relevant passage at rank 1
	require.NoError(t, err, "eval failed: %s", output)
	assert.Contains(t, output, "Evaluating 2 queries")
	assert.Contains(t, output, "K=2")
	assert.Contains(t, output, "Recall@2")
	assert.Contains(t, output, "1.000")

	reportPath := filepath.Join(tmpDir, ".quarry", "runs", "eval_k2.json")
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	var report struct {
		Params struct {
			K int `json:"k"`
		} `json:"params"`
		Summary struct {
			Queries    int     `json:"queries"`
			RecallMean float64 `json:"recall_at_k_mean"`
			MRRMean    float64 `json:"mrr_at_k_mean"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Params.K)
	assert.Equal(t, 2, report.Summary.Queries)
	assert.InDelta(t, 1.0, report.Summary.RecallMean, 1e-9)
	assert.InDelta(t, 1.0, report.Summary.MRRMean, 1e-9)

	_, err = os.Stat(filepath.Join(tmpDir, ".quarry", "runs", "eval_k2.csv"))
	assert.NoError(t, err)
}

func TestEvalCmd_JSONOutput(t *testing.T) {
	tmpDir := t.TempDir()
	buildTestIndex(t, tmpDir)
	writeTestQrels(t, tmpDir)

	output, err := runInTempDir(t, tmpDir,
		"eval", "--qrels", "qrels.json", "--k", "1", "--k", "2", "--json")
	require.NoError(t, err, "eval failed: %s", output)

	var reports []struct {
		Summary struct {
			K       int `json:"k"`
			Queries int `json:"queries"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Summary.K)
	assert.Equal(t, 2, reports[1].Summary.K)
}

func TestEvalCmd_GeneratedQrelsRoundTrip(t *testing.T) {
	// Generated judgments feed straight back into eval.
	tmpDir := t.TempDir()
	buildTestIndex(t, tmpDir)

	output, err := runInTempDir(t, tmpDir,
		"qrels", "mitochondria respiration", "--out", "labels.json", "--min-rel", "2")
	require.NoError(t, err, "qrels failed: %s", output)

	output, err = runInTempDir(t, tmpDir,
		"eval", "--qrels", "labels.json", "--k", "2")
	require.NoError(t, err, "eval failed: %s", output)
	assert.Contains(t, output, "Evaluating 1 queries")
	assert.Contains(t, output, "Recall@2")
}
