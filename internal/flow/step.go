package flow

import (
	"strings"

	"github.com/ariefcatur/go-chat-checkout/internal/orders"
)

// Step is the closed set of flow steps. Unrecognized names parse to StepNoop.
type Step int

const (
	StepNoop Step = iota
	StepStart
	StepEnsureAddress
	StepShipping
	StepCreateOrder
	StepSendToken
	StepValidateToken
	StepSubmitPayment
)

var stepNames = map[Step]string{
	StepNoop:          "noop",
	StepStart:         "start",
	StepEnsureAddress: "ensureAddress",
	StepShipping:      "shipping",
	StepCreateOrder:   "createOrder",
	StepSendToken:     "sendToken",
	StepValidateToken: "validateToken",
	StepSubmitPayment: "submitPayment",
}

var stepsByName = func() map[string]Step {
	m := make(map[string]Step, len(stepNames))
	for s, n := range stepNames {
		if s != StepNoop {
			m[strings.ToLower(n)] = s
		}
	}
	return m
}()

// ParseStep compares case-insensitively.
func ParseStep(name string) Step {
	return stepsByName[strings.ToLower(strings.TrimSpace(name))]
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "noop"
}

// State is the flow position derived from persisted records; the orchestrator stores none.
type State string

const (
	StateStart                State = "start"
	StatePendingConfirmation  State = "pending_confirmation"
	StateAwaitingPayment      State = "awaiting_payment"
	StatePaymentPendingReview State = "payment_pending_review"
	StateConfirmed            State = "confirmed"
	StateRejected             State = "rejected"
)

func StateOf(s orders.Status) State {
	switch s {
	case orders.StatusPendingConfirmation:
		return StatePendingConfirmation
	case orders.StatusAwaitingPayment:
		return StateAwaitingPayment
	case orders.StatusPaymentReview:
		return StatePaymentPendingReview
	case orders.StatusConfirmed:
		return StateConfirmed
	case orders.StatusRejected:
		return StateRejected
	}
	return StateStart
}
