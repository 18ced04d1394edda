package objectstore

import "strings"

// ResultSuffix is appended to a crate prefix to locate its validation result.
const ResultSuffix = "_validation/validation_status.txt"

// CratePrefix joins the optional root path and the crate id.
func CratePrefix(rootPath, crateID string) string {
	rootPath = strings.Trim(rootPath, "/")
	if rootPath == "" {
		return crateID
	}
	return rootPath + "/" + crateID
}

// ResultKey is the deterministic object key of a crate's validation result.
func ResultKey(rootPath, crateID string) string {
	return CratePrefix(rootPath, crateID) + ResultSuffix
}
