/*
Package checkpoint implements incremental task state snapshots: storage,
reconstruction, compaction, and resume.

A task's checkpoint history is one full base snapshot plus an ordered
chain of deltas. Workers ship the base once, then only what changed;
a replacement worker gets the folded state back and skips the work
already done.

# Storage Tiers

Blobs are gzip-compressed on write. Compressed blobs under 1 MiB live
in a bbolt bucket keyed <task_id>/<name> (ref "db_<id>"); larger ones
spill to <root>/<task_id>/<name>.gz (ref "fs_<task_id>/<name>.gz").
Retrieval probes the database first, then the filesystem, and
decompresses transparently.

# Bookkeeping

Per-task checkpoint metadata (base marker "stored_<id>", base size,
delta descriptors, checkpoint count, progress, last-at) lives on the
task row and is always written in one atomic update, so readers never
see a half-applied chain; the compaction guarantee depends on this.

# Merge

Reconstruction folds deltas onto the base in id order through a Merger
chosen by the task's kind tag. The default merger overlays JSON objects
right-biased and adds equal-length numeric arrays element-wise;
anything else leaves the base unchanged and is logged. Kinds with
richer state register their own Merger.

# Compaction

At 50 deltas the chain is reconstructed, the old blobs deleted, and the
folded state stored as a new base whose id extends the checkpoint
counter. Reconstruction before and after compaction yields the same
bytes.

# Resume

A task qualifies for resume when a base exists, the task is not
terminal, and the newest checkpoint is at most an hour old. Stale
checkpoints are ignored and the task restarts fresh. The resume
envelope carries the reconstructed state as hex of the raw bytes.
*/
package checkpoint
