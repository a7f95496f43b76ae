package hostapi

import (
	"encoding/json"
	"os"

	"github.com/vikashloomba/mcp-host-go/pkg/mcpclient"
)

// loadConfig reads the config document for editing. Missing or corrupt
// files degrade to an empty document so the admin surface can always
// render something editable.
func loadConfig(path string) *mcpclient.Document {
	doc, _ := mcpclient.LoadDocument(path)
	return doc
}

// saveConfig writes the document back with stable indentation. The write
// goes through a temp file and rename so a crash mid-write never leaves a
// truncated document behind.
func saveConfig(path string, doc *mcpclient.Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
