package model

import "time"

// Stage identifies which pipeline stage a Checkpoint or FailureRecord
// belongs to.
type Stage string

const (
	StageDiscovery    Stage = "stage1_discovery"
	StageExtraction   Stage = "stage2_extraction"
	StageMultiVersion Stage = "stage3_multiversion"
	StageReconcile    Stage = "reconciliation"
)

// CheckpointStatus is the lifecycle state of a Checkpoint, per §3 and the
// state machine in §4.5.
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointPaused     CheckpointStatus = "paused"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// Checkpoint is keyed by (code, stage). It is the durable state that lets
// the pipeline controller be stateless between runs — see §9's
// "Checkpoints as durable state" design note.
type Checkpoint struct {
	Code              string           `json:"code" bson:"code"`
	Stage             Stage            `json:"stage" bson:"stage"`
	Status            CheckpointStatus `json:"status" bson:"status"`
	CurrentBatch      int              `json:"current_batch" bson:"current_batch"`
	TotalBatches      int              `json:"total_batches" bson:"total_batches"`
	ProcessedCount    int              `json:"processed_count" bson:"processed_count"`
	FailedSectionIDs  []string         `json:"failed_section_ids" bson:"failed_section_ids"`
	WorkerCount       int              `json:"worker_count" bson:"worker_count"`
	StartedAt         time.Time        `json:"started_at" bson:"started_at"`
	UpdatedAt         time.Time        `json:"updated_at" bson:"updated_at"`
	Error             string           `json:"error,omitempty" bson:"error,omitempty"`
}

// Key returns the (code, stage) composite key as a single string.
func (c *Checkpoint) Key() string {
	return c.Code + "/" + string(c.Stage)
}

// StartBatch returns the 1-indexed batch to resume from: current_batch+1,
// or 1 if this is a fresh checkpoint (current_batch == 0). Per §4.5's
// checkpoint protocol: "resuming a checkpoint skips batches with index <=
// current_batch."
func (c *Checkpoint) StartBatch() int {
	return c.CurrentBatch + 1
}

// AddFailedSectionIDs unions new ids into the failed-section set,
// deduplicating (the checkpoint's failed_section_ids is a set per §3).
func (c *Checkpoint) AddFailedSectionIDs(ids ...string) {
	seen := make(map[string]struct{}, len(c.FailedSectionIDs))
	for _, id := range c.FailedSectionIDs {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			c.FailedSectionIDs = append(c.FailedSectionIDs, id)
			seen[id] = struct{}{}
		}
	}
}

// NewCheckpoint creates a fresh in_progress checkpoint for (code, stage).
func NewCheckpoint(code string, stage Stage, totalBatches, workerCount int) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		Code:         code,
		Stage:        stage,
		Status:       CheckpointInProgress,
		CurrentBatch: 0,
		TotalBatches: totalBatches,
		WorkerCount:  workerCount,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}
