package models

import "time"

// EventKind tags each member of the VolumeEvent union.
type EventKind string

const (
	KindTransferIn   EventKind = "transfer_in"
	KindTransferOut  EventKind = "transfer_out"
	KindMergeIn      EventKind = "merge_in"
	KindMergeOut     EventKind = "merge_out"
	KindChildOutflow EventKind = "child_outflow"
	KindRacking      EventKind = "racking"
	KindFiltering    EventKind = "filtering"
	KindPackaging    EventKind = "packaging"
	KindDistillation EventKind = "distillation"
	KindAdjustment   EventKind = "adjustment"
	KindDistribution EventKind = "distribution"
)

// VolumeEvent is the closed union of volume-affecting ledger records. Every
// kind embeds EventHeader; the Kind method keeps replay switches exhaustive.
// Events are value types: replay never mutates them.
type VolumeEvent interface {
	Kind() EventKind
	Batch() int64
	When() time.Time
}

// EventHeader carries the fields every event kind shares. OccurredAt is
// normalized before replay: records with a missing or malformed timestamp are
// stamped with the batch's creation instant, never discarded.
type EventHeader struct {
	BatchID    int64     `json:"batch_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h EventHeader) Batch() int64    { return h.BatchID }
func (h EventHeader) When() time.Time { return h.OccurredAt }

// TransferIn records volume arriving from a counterpart batch. Transfer loss
// is always attributed to the source side, so none appears here.
type TransferIn struct {
	EventHeader
	CounterpartID int64   `json:"counterpart_id"`
	Volume        float64 `json:"volume"`
}

func (TransferIn) Kind() EventKind { return KindTransferIn }

// TransferOut records volume leaving for a counterpart batch plus the loss
// incurred in the move.
type TransferOut struct {
	EventHeader
	CounterpartID int64   `json:"counterpart_id"`
	Volume        float64 `json:"volume"`
	Loss          float64 `json:"loss"`
}

func (TransferOut) Kind() EventKind { return KindTransferOut }

// MergeIn records another batch's contents being folded into this one while
// it occupies a vessel. Distinct from a transfer: no destination batch record
// is created for the move itself.
type MergeIn struct {
	EventHeader
	CounterpartID int64   `json:"counterpart_id"`
	Volume        float64 `json:"volume"`
}

func (MergeIn) Kind() EventKind { return KindMergeIn }

// MergeOut records this batch's contents being folded into another batch.
type MergeOut struct {
	EventHeader
	CounterpartID int64   `json:"counterpart_id"`
	Volume        float64 `json:"volume"`
}

func (MergeOut) Kind() EventKind { return KindMergeOut }

// ChildOutflow is synthesised, never stored: volume handed to a newly spawned
// child batch during a partial racking. There is no merge or transfer record
// for it — the link is the child's parent reference, matched to the parent's
// closest-in-time racking event.
type ChildOutflow struct {
	EventHeader
	ChildID int64   `json:"child_id"`
	Volume  float64 `json:"volume"`
}

func (ChildOutflow) Kind() EventKind { return KindChildOutflow }

// Racking records a vessel-to-vessel move. Loss is explicit, or inferred as
// before-after when the recorded loss is zero but the volume still dropped.
// ChildClaimed marks rackings matched to a child-batch creation; their volume
// drop is explained by the child outflow, so inference is skipped for them.
type Racking struct {
	EventHeader
	FromVesselID int64   `json:"from_vessel_id"`
	ToVesselID   int64   `json:"to_vessel_id"`
	VolumeBefore float64 `json:"volume_before"`
	VolumeAfter  float64 `json:"volume_after"`
	Loss         float64 `json:"loss"`
	ChildClaimed bool    `json:"child_claimed"`
}

func (Racking) Kind() EventKind { return KindRacking }

// Filtering records process loss only.
type Filtering struct {
	EventHeader
	Loss float64 `json:"loss"`
}

func (Filtering) Kind() EventKind { return KindFiltering }

// Packaging records a bottling or kegging run. VolumeTaken may or may not
// already include Loss; the replay fold applies the documented heuristic
// against Units×UnitSize rather than guessing.
type Packaging struct {
	EventHeader
	VolumeTaken float64 `json:"volume_taken"`
	Loss        float64 `json:"loss"`
	Units       int     `json:"units"`
	UnitSize    float64 `json:"unit_size"` // liters per unit
	Format      string  `json:"format"`    // e.g. "750ml bottle", "30L keg"
}

func (Packaging) Kind() EventKind { return KindPackaging }

// Distillation records volume sent to an external distillery.
type Distillation struct {
	EventHeader
	Volume      float64 `json:"volume"`
	Destination string  `json:"destination"`
}

func (Distillation) Kind() EventKind { return KindDistillation }

// Adjustment is a signed manual correction: positive is a gain, negative a
// loss.
type Adjustment struct {
	EventHeader
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

func (Adjustment) Kind() EventKind { return KindAdjustment }

// Distribution records volume leaving bonded premises entirely (a sale),
// independent of any packaging record.
type Distribution struct {
	EventHeader
	Volume  float64 `json:"volume"`
	Channel string  `json:"channel"` // e.g. "taproom", "wholesale"
}

func (Distribution) Kind() EventKind { return KindDistribution }
