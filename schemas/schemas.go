// Package schemas validates asset metadata documents against the
// published metadata schema. All checks are pure and deterministic for
// a given schema version.
package schemas

import (
	"fmt"
	"time"
)

const (
	LocalSchemaURL  = "https://schemas.oceanprotocol.com/metadata/local.json"
	RemoteSchemaURL = "https://schemas.oceanprotocol.com/metadata/remote.json"
)

// ValidationError is one schema violation, addressed by a JSON path.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// IsValidLocal validates a raw submitted metadata document, as posted
// to the validate endpoint before publishing.
func IsValidLocal(doc map[string]any) bool {
	return len(ListErrorsLocal(doc)) == 0
}

// ListErrorsLocal returns every violation in a raw metadata document.
func ListErrorsLocal(doc map[string]any) []ValidationError {
	var errs []ValidationError

	main, ok := doc["main"].(map[string]any)
	if !ok {
		return append(errs, ValidationError{Path: "main", Message: "required property is missing"})
	}

	errs = append(errs, checkMain(main, "main")...)

	if ai, ok := doc["additionalInformation"]; ok {
		if _, ok := ai.(map[string]any); !ok {
			errs = append(errs, ValidationError{Path: "additionalInformation", Message: "must be an object"})
		}
	}

	return errs
}

// IsValidRemote validates the attributes object unwrapped from a DDO's
// metadata service entry.
func IsValidRemote(attrs map[string]any) bool {
	return len(ListErrorsRemote(attrs)) == 0
}

// ListErrorsRemote returns every violation in an unwrapped attributes
// object. Remote documents must additionally carry resolved file
// metadata instead of raw URLs.
func ListErrorsRemote(attrs map[string]any) []ValidationError {
	errs := ListErrorsLocal(attrs)

	main, ok := attrs["main"].(map[string]any)
	if !ok {
		return errs
	}

	files, ok := main["files"].([]any)
	if !ok {
		return errs
	}
	for i, f := range files {
		fm, ok := f.(map[string]any)
		if !ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("main.files[%d]", i),
				Message: "must be an object",
			})
			continue
		}
		if _, ok := fm["url"]; ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("main.files[%d].url", i),
				Message: "url is not allowed in remote metadata",
			})
		}
		if _, ok := fm["checksum"]; !ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("main.files[%d].checksum", i),
				Message: "required property is missing",
			})
		}
	}

	return errs
}

func checkMain(main map[string]any, path string) []ValidationError {
	var errs []ValidationError

	for _, field := range []string{"name", "author", "license", "type"} {
		v, ok := main[field]
		if !ok {
			errs = append(errs, ValidationError{
				Path:    path + "." + field,
				Message: "required property is missing",
			})
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			errs = append(errs, ValidationError{
				Path:    path + "." + field,
				Message: "must be a non-empty string",
			})
		}
	}

	if t, ok := main["type"].(string); ok {
		if t != "dataset" && t != "algorithm" {
			errs = append(errs, ValidationError{
				Path:    path + ".type",
				Message: "must be one of: dataset, algorithm",
			})
		}
	}

	if v, ok := main["dateCreated"]; ok {
		s, isStr := v.(string)
		if !isStr {
			errs = append(errs, ValidationError{
				Path:    path + ".dateCreated",
				Message: "must be an RFC3339 timestamp",
			})
		} else if _, err := time.Parse(time.RFC3339, s); err != nil {
			errs = append(errs, ValidationError{
				Path:    path + ".dateCreated",
				Message: "must be an RFC3339 timestamp",
			})
		}
	} else {
		errs = append(errs, ValidationError{
			Path:    path + ".dateCreated",
			Message: "required property is missing",
		})
	}

	if files, ok := main["files"]; ok {
		if _, isList := files.([]any); !isList {
			errs = append(errs, ValidationError{
				Path:    path + ".files",
				Message: "must be an array",
			})
		}
	}

	return errs
}
