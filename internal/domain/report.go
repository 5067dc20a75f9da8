package domain

// PartitionReport compares what search reported, what was retrieved and
// what was persisted for one partition
type PartitionReport struct {
	Partition     string      `json:"partition"`
	Status        AuditStatus `json:"status"`
	ReportedTotal int         `json:"reported_total"`
	Retrieved     int         `json:"retrieved"`
	Persisted     int         `json:"persisted"`
	Missing       int         `json:"missing"`
	Error         string      `json:"error,omitempty"`
}

// RunReport is the completeness check of a run
type RunReport struct {
	Run        *ExtractionRun    `json:"run"`
	Summary    RunSummary        `json:"summary"`
	Persisted  int               `json:"persisted"`
	Partitions []PartitionReport `json:"partitions"`
	Failed     []string          `json:"failed"`
	Truncated  []string          `json:"truncated"`

	// Unaudited lists days of the range without an audit, e.g. after a
	// cancelled or aborted run
	Unaudited []string `json:"unaudited"`

	// Trustworthy is true only when every day is COMPLETE and the run finished
	Trustworthy bool `json:"trustworthy"`
}
