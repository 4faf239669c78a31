// Package repository defines error values that are reused across multiple
// repositories. These sentinels let higher layers such as the auth engine
// distinguish failure scenarios without inspecting driver error strings at
// every call site; the MySQL duplicate-key sniffing happens in exactly one
// place per repository.
package repository

import "errors"

// ErrUsernameExists is returned by AccountRepo.Create and UpdateUsername
// when the unique constraint on accounts.username is violated.
var ErrUsernameExists = errors.New("username already exists")

// ErrEmailExists is returned by AccountRepo.Create and UpdateEmail when the
// unique constraint on accounts.email is violated.
var ErrEmailExists = errors.New("email already exists")

// ErrEventProcessed is returned by EventRepo.InsertTx when the ledger
// already contains the event id, i.e. the event was delivered before.
var ErrEventProcessed = errors.New("event already processed")
