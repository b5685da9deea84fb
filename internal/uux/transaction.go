package uux

import "github.com/uucp-go/uucp/internal/spool"

// transaction is spec.md §9's "abort list" recast as a scoped value: every
// spool artifact created during a submission is recorded here, and unless
// Commit is called, Close removes them all. This replaces the original
// uxrecord_file/uxabort global-state pattern with an RAII-style object
// whose zero value does nothing and whose drop-without-commit cleans up.
type transaction struct {
	sp        *spool.Spool
	artifacts []string
	committed bool
}

func newTransaction(sp *spool.Spool) *transaction {
	return &transaction{sp: sp}
}

// record adds a spool-relative filename to the abort list.
func (t *transaction) record(name string) {
	t.artifacts = append(t.artifacts, name)
}

// commit marks the transaction as durable: Close becomes a no-op.
func (t *transaction) commit() {
	t.committed = true
}

// Close removes every recorded artifact unless the transaction was
// committed. It is safe to call on a committed transaction.
func (t *transaction) Close() error {
	if t.committed {
		return nil
	}
	return t.sp.RemoveJob(t.artifacts...)
}
