package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/dicom-catalog/pkg/ingestion"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.dcm"), "x")
	writeFile(t, filepath.Join(root, "a.DCM"), "x")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(root, "sub", "c.dcm"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "d.dcm"), "x")

	v := ingestion.NewValidator(".dcm")

	flat, err := collectFiles(root, false, v)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.DCM"), filepath.Join(root, "b.dcm")}, flat)

	deep, err := collectFiles(root, true, v)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.DCM"),
		filepath.Join(root, "b.dcm"),
		filepath.Join(root, "sub", "c.dcm"),
	}, deep)
}

type scriptedImporter struct {
	results map[string]ingestion.Result
}

func (s scriptedImporter) Import(_ context.Context, _ io.ReadSeeker, fileName string) ingestion.Result {
	return s.results[filepath.Base(fileName)]
}

func TestImportFilesSummarises(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "new.dcm"), "x")
	writeFile(t, filepath.Join(root, "dup.dcm"), "x")
	writeFile(t, filepath.Join(root, "bad.dcm"), "x")
	writeFile(t, filepath.Join(root, "empty.dcm"), "")

	svc := scriptedImporter{results: map[string]ingestion.Result{
		"new.dcm": {Success: true, Message: ingestion.MessageImported},
		"dup.dcm": {Message: ingestion.MessageAlreadyExists},
		"bad.dcm": {Message: "Error importing DICOM file: bad"},
	}}

	files, err := collectFiles(root, false, ingestion.NewValidator())
	require.NoError(t, err)

	var out bytes.Buffer
	summary := importFiles(context.Background(), svc, files, &out)
	assert.Equal(t, importSummary{imported: 1, duplicate: 1, failed: 2}, summary)

	dec := json.NewDecoder(&out)
	count := 0
	for dec.More() {
		var res ingestion.Result
		require.NoError(t, dec.Decode(&res))
		count++
	}
	assert.Equal(t, 4, count)
}
