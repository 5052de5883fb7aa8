package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrWalletNotFound  = fmt.Errorf("wallet %w", ErrNotFound)
	ErrTesterNotFound  = fmt.Errorf("tester %w", ErrNotFound)
	ErrCreatorNotFound = fmt.Errorf("creator %w", ErrNotFound)
	ErrTaskNotFound    = fmt.Errorf("task %w", ErrNotFound)
	ErrForbidden       = errors.New("forbidden")
	ErrAmountMismatch  = errors.New("amount does not match recorded transaction")
)

// Сообщения отказов, возвращаемые в Outcome.
const (
	MsgInsufficientFunds       = "insufficient funds"
	MsgInsufficientSystemFunds = "insufficient system funds"
	MsgAlreadyApplied          = "already applied"
	MsgAlreadySelected         = "already selected"
	MsgAlreadyRejected         = "already rejected"
	MsgNotApplied              = "tester has not applied"
	MsgNotSelected             = "tester is not selected"
	MsgTaskNotOpen             = "task is not open"
	MsgTaskAtCapacity          = "task at capacity"
	MsgNotEligible             = "tester is not eligible for this task"
	MsgAlreadyResponded        = "already responded"
	MsgDailyLimit              = "daily response limit reached"
	MsgNoResponse              = "no response to review"
	MsgAlreadyReviewed         = "response already reviewed"
)
