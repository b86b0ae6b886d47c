package domain

// CleanupReport summarises one cleanup run.
type CleanupReport struct {
	KeptVersions    []string `json:"kept_versions"`
	DeletedVersions []string `json:"deleted_versions"`
	DeletedCycles   []string `json:"deleted_cycles"`
	DeletedKeys     int      `json:"deleted_keys"`
}

// IndexStats is a point-in-time snapshot of the pipeline.
type IndexStats struct {
	LatestVersion  string       `json:"latest_version"`
	LatestVectors  int          `json:"latest_vectors"`
	LatestKind     IndexKind    `json:"latest_kind,omitempty"`
	StoredVersions int          `json:"stored_versions"`
	BatchCycles    int          `json:"batch_cycles"`
	QueueDepth     map[Lane]int `json:"queue_depth"`
}
