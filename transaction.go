package tmstorage

import (
	"errors"
	"fmt"

	"github.com/davidvella/tmstorage/monitoring"
)

// TransactionState is the kind of transaction state change passed to hooks.
type TransactionState int

const (
	TransactionStart TransactionState = iota
	TransactionCommit
	TransactionRollback
)

func (t TransactionState) String() string {
	switch t {
	case TransactionStart:
		return "start"
	case TransactionCommit:
		return "commit"
	case TransactionRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// OnTransactionChanging registers fn to run before each transaction state change.
func (s *Storage) OnTransactionChanging(fn func(TransactionState)) {
	s.onChanging = append(s.onChanging, fn)
}

// OnTransactionChanged registers fn to run after each transaction state change.
func (s *Storage) OnTransactionChanged(fn func(TransactionState)) {
	s.onChanged = append(s.onChanged, fn)
}

func notify(hooks []func(TransactionState), state TransactionState) {
	for _, fn := range hooks {
		fn(state)
	}
}

// InTransaction reports whether a transaction is active.
func (s *Storage) InTransaction() bool {
	return s.level > 0
}

// StartTransaction begins a transaction or joins the active one.
func (s *Storage) StartTransaction() error {
	if s.closed {
		return ErrStorageClosed
	}

	s.level++
	if s.level > 1 {
		return nil
	}
	if err := s.begin(); err != nil {
		return errors.Join(err, s.rollback())
	}
	return nil
}

func (s *Storage) begin() error {
	if len(s.dirty) > 0 {
		return ErrInvariant
	}

	notify(s.onChanging, TransactionStart)
	if err := s.master.start(); err != nil {
		return err
	}
	if s.log != nil {
		if _, err := s.log.Begin(s.freeRuns()); err != nil {
			return fmt.Errorf("failed to begin log transaction: %w", err)
		}
	}
	notify(s.onChanged, TransactionStart)
	return nil
}

// CommitTransaction leaves the current transaction level. Only leaving the
// outermost level makes the changes durable.
func (s *Storage) CommitTransaction() error {
	if s.closed {
		return ErrStorageClosed
	}

	if s.level == 1 {
		notify(s.onChanging, TransactionCommit)
		if err := s.commit(); err != nil {
			return errors.Join(err, s.rollback())
		}
	}

	if s.level > 0 {
		s.level--
		if s.level == 0 {
			notify(s.onChanged, TransactionCommit)
		}
	}
	return nil
}

func (s *Storage) commit() error {
	if err := s.saveChanges(); err != nil {
		return fmt.Errorf("failed to save changes: %w", err)
	}
	if err := s.master.flush(); err != nil {
		return fmt.Errorf("failed to flush buffered writes: %w", err)
	}
	if s.log != nil {
		if err := s.log.End(); err != nil {
			return fmt.Errorf("failed to end log transaction: %w", err)
		}
	} else if err := s.master.sync(); err != nil {
		return err
	}

	s.created = nil
	if err := s.master.commit(); err != nil {
		return err
	}
	s.registry.Add(metricCommits, 1)
	return nil
}

func (s *Storage) saveChanges() error {
	for _, st := range s.dirty {
		if err := st.save(); err != nil {
			return err
		}
	}
	if err := s.table.saveChanges(); err != nil {
		return err
	}
	s.dirty = nil
	return nil
}

// RollbackTransaction undoes the whole transaction, whatever the nesting
// level. Without a log and without buffering nothing can be undone and the
// transaction is committed instead.
func (s *Storage) RollbackTransaction() error {
	if s.closed {
		return ErrStorageClosed
	}
	if s.log == nil && !s.master.canDiscard() {
		return s.CommitTransaction()
	}
	return s.rollback()
}

func (s *Storage) rollback() error {
	if s.level == 0 {
		return nil
	}

	notify(s.onChanging, TransactionRollback)
	err := s.internalRollback()
	s.level = 0
	s.registry.Add(metricRollbacks, 1)
	notify(s.onChanged, TransactionRollback)
	return err
}

// internalRollback restores the medium and reloads every in-memory structure
// from it. Streams created during the transaction are closed.
func (s *Storage) internalRollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.created {
		if st := s.open.get(id); st != nil {
			st.internalClose()
		}
		s.open.remove(id)
	}
	s.created = nil

	if s.log != nil {
		if err := s.log.Rollback(); err != nil {
			logger.Error("failed to roll back log", "err", err)
			return errors.Join(fmt.Errorf("failed to roll back log: %w", err), s.master.rollback())
		}
	}
	if err := s.master.rollback(); err != nil {
		return err
	}
	s.dirty = nil

	if err := s.tableStream.reload(s.tableMetadata()); err != nil {
		return err
	}
	if err := s.table.rollback(); err != nil {
		return err
	}

	for _, st := range s.open.live() {
		if !s.table.contains(st.meta.id) {
			st.internalClose()
			continue
		}
		meta, _, err := s.table.get(st.meta.id)
		if err != nil {
			return err
		}
		if err := st.reload(meta); err != nil {
			return err
		}
	}

	meta, err := s.freeSpaceMetadata()
	if err != nil {
		return err
	}
	if err := s.free.reload(meta); err != nil {
		return err
	}

	logger.Debug("rolled back transaction")
	return nil
}

// transact runs fn in a transaction, rolling everything back when it fails.
func (s *Storage) transact(fn func() error) error {
	if err := s.StartTransaction(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return errors.Join(err, s.rollback())
	}
	return s.CommitTransaction()
}
