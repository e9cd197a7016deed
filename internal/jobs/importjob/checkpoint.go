// Package importjob implements the resumable, section-aware ND-JSON import
// engine (C9) that drives a twinstore.Store under a job-service lease.
package importjob

// Section identifies where a resumed import stream currently stands.
type Section string

const (
	SectionNone          Section = "None"
	SectionHeader        Section = "Header"
	SectionModels        Section = "Models"
	SectionTwins         Section = "Twins"
	SectionRelationships Section = "Relationships"
)

// Checkpoint is the resumable progress marker persisted to the job's
// checkpoint_data column between runs.
type Checkpoint struct {
	JobID                  string   `json:"jobId"`
	CurrentSection         Section  `json:"currentSection"`
	LineNumber             int      `json:"lineNumber"`
	ModelsProcessed        int      `json:"modelsProcessed"`
	TwinsProcessed         int      `json:"twinsProcessed"`
	RelationshipsProcessed int      `json:"relationshipsProcessed"`
	ErrorCount             int      `json:"errorCount"`
	PendingModels          []string `json:"pendingModels"`
	ModelsCompleted        bool     `json:"modelsCompleted"`
	TwinsCompleted         bool     `json:"twinsCompleted"`
	RelationshipsCompleted bool     `json:"relationshipsCompleted"`
}

func newCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{JobID: jobID, CurrentSection: SectionNone}
}

// itemsCreated reports whether the import has produced any output at all,
// used to distinguish failed from partiallySucceeded.
func (c *Checkpoint) itemsCreated() bool {
	return c.ModelsProcessed > 0 || c.TwinsProcessed > 0 || c.RelationshipsProcessed > 0
}
