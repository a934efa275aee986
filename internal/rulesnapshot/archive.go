package rulesnapshot

import (
	"archive/zip"
	"bytes"
	"io"
	"path/filepath"
	"strings"
)

// ruleExtension is the file suffix that marks a zip entry as a YARA rule.
const ruleExtension = ".yara"

// parseRuleArchive extracts every entry ending in ruleExtension from a zip
// archive and maps its file stem (directory prefix discarded) to its
// decoded contents.
func parseRuleArchive(data []byte) (map[string]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	rules := make(map[string]string)
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ruleExtension) {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(f.Name), ruleExtension)

		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		rules[name] = string(body)
	}
	return rules, nil
}
