package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a tenant operation runs before Initialize.
	ErrNotInitialized = errors.New("tenant not initialized")
	// ErrNotFound is returned for unknown alert, rule, channel or notification ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStateTransition is returned for lifecycle or retry requests the current status forbids.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrRetryBudgetExceeded is returned once a notification has used every retry.
	ErrRetryBudgetExceeded = fmt.Errorf("retry budget exceeded: %w", ErrInvalidStateTransition)
	// ErrMetricMissing marks a rule whose metric is absent from the snapshot.
	ErrMetricMissing = errors.New("metric missing from snapshot")
	// ErrInvalidRule is returned by rule validation.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrInvalidAlert is returned when a created alert names an unknown type or severity.
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrInvalidChannel is returned by channel validation.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrAlreadyExists is returned when adding a channel with a taken id.
	ErrAlreadyExists = errors.New("already exists")
)
