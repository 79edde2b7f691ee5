package repo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the addressed row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance rejects a debit that would drive the balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount rejects a zero ledger delta or one the balance cannot hold.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTicketClosed rejects replies on a closed ticket.
	ErrTicketClosed = errors.New("ticket closed")
	// ErrEmptyTargetSet rejects an OTA deployment with no devices.
	ErrEmptyTargetSet = errors.New("empty target set")
	// ErrConflict reports a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalid marks input that fails validation.
	ErrInvalid = errors.New("invalid input")
)

// SQLSTATE codes raised by the stored procedures in migrations/postgres.
const (
	sqlStateInsufficientBalance = "KF001"
	sqlStateNotFound            = "KF002"
	sqlStateTicketClosed        = "KF003"
	sqlStateInvalidAmount       = "KF004"
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateInvalidText         = "22P02"
	sqlStateNumericOutOfRange   = "22003"
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
